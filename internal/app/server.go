package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"admin-starter/internal/handlers"
	"admin-starter/internal/server"
)

// Handler builds the fully routed HTTP handler.
func (app *App) Handler() http.Handler {
	h := handlers.New(app.Settings, app.Users, app.RateLimiter, app.Auth, app.Storage, app.Locker)

	opts := RouteOptions{Auth: app.Auth, Observer: app.Metrics}
	if app.Config.MetricsEnabled {
		opts.Metrics = app.Metrics.Handler()
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, opts)
	return router
}

// RunServer starts the background scheduler and returns the HTTP server
func (app *App) RunServer() *server.Server {
	app.Scheduler.Start()
	return server.New(app.Handler(), app.Config.Port, "", "")
}

// Shutdown stops background jobs, waiting for a running sweep to finish
func (app *App) Shutdown(ctx context.Context) error {
	select {
	case <-app.Scheduler.Stop().Done():
		app.Logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
