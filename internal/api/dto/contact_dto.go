package dto

import (
	"time"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// ContactRequest is used for both create and partial update. Omitted fields
// stay untouched on update.
type ContactRequest struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	Email    *string `json:"email"`
	Document *string `json:"document"`
	City     *string `json:"city"`
	State    *string `json:"state"`
	Notes    *string `json:"notes"`
}

// ContactResponse payload.
type ContactResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone"`
	Email     *string   `json:"email"`
	Document  *string   `json:"document"`
	City      *string   `json:"city"`
	State     *string   `json:"state"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewContactResponse maps a contact.
func NewContactResponse(c *domain.Contact) ContactResponse {
	return ContactResponse{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Email:     c.Email,
		Document:  c.Document,
		City:      c.City,
		State:     c.State,
		Notes:     c.Notes,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
