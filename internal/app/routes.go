package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"admin-starter/internal/auth"
	"admin-starter/internal/handlers"
	"admin-starter/internal/middleware"
)

// RouteOptions carries the cross-cutting pieces SetupRoutes wires around the handlers.
type RouteOptions struct {
	Auth     *auth.Auth
	Observer middleware.RequestObserver
	// Metrics is served on /metrics when set
	Metrics http.Handler
}

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, opts RouteOptions) {
	router.Use(middleware.Logging(nil, opts.Observer))
	router.Use(opts.Auth.Middleware)
	router.Use(h.SetupGate)

	// Health and metrics (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()

	// First-time setup
	api.HandleFunc("/setup", h.GetSetupStatus).Methods("GET")
	api.HandleFunc("/setup", h.HandleSetup).Methods("POST")

	// Auth routes (no auth required for login and registration)
	api.HandleFunc("/auth/login", h.HandleLogin).Methods("POST")
	api.HandleFunc("/auth/logout", h.HandleLogout).Methods("POST")
	api.HandleFunc("/auth/register", h.HandleRegister).Methods("POST")

	// Rate limited operation, open to anonymous callers
	api.HandleFunc("/operations", h.HandleOperation).Methods("POST")

	// Authenticated routes
	authed := api.NewRoute().Subrouter()
	authed.Use(auth.RequireAuth)
	authed.HandleFunc("/auth/me", h.HandleGetCurrentUser).Methods("GET")
	authed.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	authed.HandleFunc("/users/{id}", h.UpdateUser).Methods("PATCH")
	authed.HandleFunc("/ratelimit/status", h.GetRateLimitStatus).Methods("GET")

	// Admin routes
	admin := api.NewRoute().Subrouter()
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	admin.HandleFunc("/settings", h.GetSettings).Methods("GET")
	admin.HandleFunc("/settings", h.UpdateSettings).Methods("PUT")
	admin.HandleFunc("/users", h.ListUsers).Methods("GET")
	admin.HandleFunc("/users", h.CreateUser).Methods("POST")
	admin.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
	admin.HandleFunc("/ratelimit/{userId}", h.ResetRateLimit).Methods("DELETE")
	admin.HandleFunc("/stats", h.GetStats).Methods("GET")
}
