package app

import (
	"context"
	"fmt"

	"admin-starter/internal/common/logging"
	"admin-starter/internal/common/utils"
	"admin-starter/internal/storage"
	_ "admin-starter/internal/storage/postgres"
	_ "admin-starter/internal/storage/sqlite"
)

func (app *App) initializeStorage(ctx context.Context) error {
	if app.Config.IsPostgres() {
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
	} else {
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	var store storage.Storage
	err := utils.RetryWithBackoff(ctx, utils.StartupRetryConfig(app.Config.StartupAttempts), func() (err error) {
		store, err = storage.NewStorage(app.Config)
		if err != nil {
			app.Logger.Warn("Database not ready", logging.Err(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Storage = store
	return nil
}
