package app

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"admin-starter/internal/common/logging"
)

// initializeScheduler registers background jobs. Expired in-memory windows
// are purged on SweepSchedule; Redis expires its own keys.
func (app *App) initializeScheduler() error {
	app.Scheduler = cron.New()

	if app.memoryWindows == nil {
		return nil
	}

	if _, err := app.Scheduler.AddFunc(app.Config.SweepSchedule, app.sweepWindows); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", app.Config.SweepSchedule, err)
	}
	app.Logger.Info("Window sweeper scheduled", logging.String("schedule", app.Config.SweepSchedule))
	return nil
}

func (app *App) sweepWindows() {
	if removed := app.memoryWindows.Sweep(time.Now()); removed > 0 {
		app.Logger.Debug("Swept expired rate limit windows", logging.Int("removed", removed))
	}
}
