package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-dashboard/internal/api/http/handlers"
	"github.com/spec-kit/ticket-dashboard/internal/auth"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Dashboard      *handlers.DashboardHandler
	Preferences    *handlers.PreferencesHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequirePrivilege(domain.PrivilegeTicketsRead))
	api.Get("/tickets", cfg.Tickets.ListTickets)
	api.Get("/tickets/:id", cfg.Tickets.GetTicket)
	api.Get("/tickets/:id/stream", cfg.Tickets.StreamTicket)

	api.Get("/dashboard", cfg.Dashboard.Dashboard)
	api.Put("/filters", cfg.Dashboard.SetFilter)
	api.Get("/sync", cfg.Dashboard.SyncStatus)
	api.Post("/sync", auth.RequirePrivilege(domain.PrivilegeTicketsSync), cfg.Dashboard.Refresh)

	api.Get("/preferences", cfg.Preferences.Get)
	api.Put("/preferences", cfg.Preferences.Put)
	api.Get("/journal", cfg.Preferences.Journal)
}
