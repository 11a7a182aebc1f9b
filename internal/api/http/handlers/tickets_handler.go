package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/whatsapp-helpdesk/internal/api/dto"
	"github.com/spec-kit/whatsapp-helpdesk/internal/auth"
	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/service"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// TicketLifecycle is the ticket service surface exposed to agents.
type TicketLifecycle interface {
	Get(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error)
	CreateTicket(ctx context.Context, principal domain.Principal, input service.TicketCreateInput) (*domain.Ticket, error)
	Accept(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error)
	CloseForNow(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error)
	Finish(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error)
	MarkRead(ctx context.Context, principal domain.Principal, ticketID string) (int64, error)
	ListMessages(ctx context.Context, principal domain.Principal, ticketID string) ([]domain.Message, error)
	ListHistory(ctx context.Context, principal domain.Principal, ticketID string) ([]domain.TicketHistory, error)
}

// TicketsHandler manages agent ticket endpoints.
type TicketsHandler struct {
	service TicketLifecycle
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets TicketLifecycle) *TicketsHandler {
	return &TicketsHandler{service: tickets}
}

func principalOf(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.ContactID) == "" {
		return apperrors.NewValidationError("contact_id required", map[string]any{"field": "contact_id"})
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), principal, service.TicketCreateInput{
		ContactID:    req.ContactID,
		Title:        req.Title,
		ConnectionID: req.ConnectionID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListMessages GET /tickets/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.ListMessages(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageResponses(msgs)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	entries, err := h.service.ListHistory(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewHistoryResponses(entries)})
}

// Accept POST /tickets/:id/accept.
func (h *TicketsHandler) Accept(c *fiber.Ctx) error {
	return h.transition(c, h.service.Accept)
}

// CloseForNow POST /tickets/:id/close-for-now.
func (h *TicketsHandler) CloseForNow(c *fiber.Ctx) error {
	return h.transition(c, h.service.CloseForNow)
}

// Finish POST /tickets/:id/finish.
func (h *TicketsHandler) Finish(c *fiber.Ctx) error {
	return h.transition(c, h.service.Finish)
}

// MarkRead POST /tickets/:id/read.
func (h *TicketsHandler) MarkRead(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	marked, err := h.service.MarkRead(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"marked": marked}})
}

func (h *TicketsHandler) transition(c *fiber.Ctx, apply func(context.Context, domain.Principal, string) (*domain.Ticket, error)) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	ticket, err := apply(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}
