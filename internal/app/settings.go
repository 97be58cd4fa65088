package app

import (
	"context"
	"fmt"

	"admin-starter/internal/common/logging"
	"admin-starter/internal/settings"
)

func (app *App) initializeSettings(ctx context.Context) error {
	app.Logger.Info("Step 1: Initializing settings service...")

	app.Settings = settings.NewService(app.Storage, nil)
	if err := app.Settings.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize settings: %w", err)
	}

	completed, err := app.Settings.GetBool(ctx, settings.KeyFirstTimeSetupCompleted)
	if err != nil {
		return fmt.Errorf("failed to read setup status: %w", err)
	}
	app.Logger.Info("Settings service initialized", logging.Bool("setup_completed", completed))
	return nil
}
