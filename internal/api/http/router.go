package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/whatsapp-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/whatsapp-helpdesk/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health          *handlers.HealthHandler
	Webhook         *handlers.WebhookHandler
	Actions         *handlers.ActionsHandler
	Tickets         *handlers.TicketsHandler
	Contacts        *handlers.ContactsHandler
	AuthMiddleware  *auth.AuthMiddleware
	WebhookVerifier *auth.WebhookVerifier
	WebhookPath     string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	webhookPath := cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook"
	}
	app.Post(webhookPath, cfg.WebhookVerifier.Handler(), cfg.Webhook.Receive)

	guard := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireMember()}
	app.Post("/actions", append(guard, cfg.Actions.Handle)...)
	app.Post("/evolution-api", append(guard, cfg.Actions.Handle)...)

	tickets := app.Group("/tickets", guard...)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/messages", cfg.Tickets.ListMessages)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)
	tickets.Post("/:id/accept", cfg.Tickets.Accept)
	tickets.Post("/:id/close-for-now", cfg.Tickets.CloseForNow)
	tickets.Post("/:id/finish", cfg.Tickets.Finish)
	tickets.Post("/:id/read", cfg.Tickets.MarkRead)

	contacts := app.Group("/contacts", guard...)
	contacts.Post("/", cfg.Contacts.Create)
	contacts.Get("/:id", cfg.Contacts.Get)
	contacts.Patch("/:id", cfg.Contacts.Update)
}
