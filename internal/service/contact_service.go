package service

import (
	"context"
	"errors"
	"strings"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// ContactInput carries agent editable contact fields. Nil leaves a field
// unchanged on update.
type ContactInput struct {
	Name     *string
	Phone    *string
	Email    *string
	Document *string
	City     *string
	State    *string
	Notes    *string
}

// ContactService manages contacts on behalf of agents.
type ContactService struct {
	contacts repository.ContactRepository
}

// NewContactService constructs the service.
func NewContactService(contacts repository.ContactRepository) *ContactService {
	return &ContactService{contacts: contacts}
}

// Create adds a contact. The phone is stored as +digits and must be unique
// within the organization.
func (s *ContactService) Create(ctx context.Context, principal domain.Principal, input ContactInput) (*domain.Contact, error) {
	contact := &domain.Contact{OrganizationID: principal.OrganizationID}
	if err := applyContactInput(contact, input); err != nil {
		return nil, err
	}
	if contact.Name == "" {
		if contact.Phone == nil {
			return nil, apperrors.NewValidationError("name or phone is required", map[string]any{"field": "name"})
		}
		contact.Name = *contact.Phone
	}
	if err := s.contacts.Create(ctx, contact); err != nil {
		return nil, phoneConflict(err, contact.Phone)
	}
	return contact, nil
}

// Update changes the provided fields.
func (s *ContactService) Update(ctx context.Context, principal domain.Principal, id string, input ContactInput) (*domain.Contact, error) {
	contact, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if err := applyContactInput(contact, input); err != nil {
		return nil, err
	}
	if contact.Name == "" {
		return nil, apperrors.NewValidationError("name cannot be empty", map[string]any{"field": "name"})
	}
	if err := s.contacts.Update(ctx, contact); err != nil {
		return nil, notFound(phoneConflict(err, contact.Phone), "contact", id)
	}
	return contact, nil
}

// Get returns one contact of the caller's organization.
func (s *ContactService) Get(ctx context.Context, principal domain.Principal, id string) (*domain.Contact, error) {
	contact, err := s.contacts.GetByID(ctx, principal.OrganizationID, id)
	if err != nil {
		return nil, notFound(err, "contact", id)
	}
	return contact, nil
}

func applyContactInput(contact *domain.Contact, input ContactInput) error {
	if input.Name != nil {
		contact.Name = strings.TrimSpace(*input.Name)
	}
	if input.Phone != nil {
		if strings.TrimSpace(*input.Phone) == "" {
			contact.Phone = nil
		} else {
			phone := domain.NormalizePhone(*input.Phone)
			if phone == "" {
				return apperrors.NewValidationError("phone must contain digits", map[string]any{"field": "phone"})
			}
			contact.Phone = &phone
		}
	}
	if input.Email != nil {
		contact.Email = trimmedPtr(input.Email)
	}
	if input.Document != nil {
		contact.Document = trimmedPtr(input.Document)
	}
	if input.City != nil {
		contact.City = trimmedPtr(input.City)
	}
	if input.State != nil {
		contact.State = trimmedPtr(input.State)
	}
	if input.Notes != nil {
		contact.Notes = trimmedPtr(input.Notes)
	}
	return nil
}

func phoneConflict(err error, phone *string) error {
	if errors.Is(err, repository.ErrConflict) {
		details := map[string]any{}
		if phone != nil {
			details["phone"] = *phone
		}
		return apperrors.NewConflict("a contact with this phone already exists", details)
	}
	return err
}
