package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/whatsapp-helpdesk/internal/api/dto"
	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/service"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// ContactDirectory is the contact service surface exposed to agents.
type ContactDirectory interface {
	Create(ctx context.Context, principal domain.Principal, input service.ContactInput) (*domain.Contact, error)
	Update(ctx context.Context, principal domain.Principal, id string, input service.ContactInput) (*domain.Contact, error)
	Get(ctx context.Context, principal domain.Principal, id string) (*domain.Contact, error)
}

// ContactsHandler serves contact endpoints.
type ContactsHandler struct {
	service ContactDirectory
}

// NewContactsHandler constructs handler.
func NewContactsHandler(contacts ContactDirectory) *ContactsHandler {
	return &ContactsHandler{service: contacts}
}

// Create POST /contacts.
func (h *ContactsHandler) Create(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	var req dto.ContactRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	contact, err := h.service.Create(c.UserContext(), principal, contactInput(req))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewContactResponse(contact)})
}

// Update PATCH /contacts/:id.
func (h *ContactsHandler) Update(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	var req dto.ContactRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	contact, err := h.service.Update(c.UserContext(), principal, c.Params("id"), contactInput(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewContactResponse(contact)})
}

// Get GET /contacts/:id.
func (h *ContactsHandler) Get(c *fiber.Ctx) error {
	principal, err := principalOf(c)
	if err != nil {
		return err
	}
	contact, err := h.service.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewContactResponse(contact)})
}

func contactInput(req dto.ContactRequest) service.ContactInput {
	return service.ContactInput{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Document: req.Document,
		City:     req.City,
		State:    req.State,
		Notes:    req.Notes,
	}
}
