package dto

import (
	"time"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	ContactID    string  `json:"contact_id"`
	Title        string  `json:"title"`
	ConnectionID *string `json:"connection_id"`
}

// TicketResponse is the agent view of a ticket.
type TicketResponse struct {
	ID            string              `json:"id"`
	ContactID     string              `json:"contact_id"`
	ConnectionID  *string             `json:"connection_id"`
	Title         string              `json:"title"`
	Status        domain.TicketStatus `json:"status"`
	AssignedTo    *string             `json:"assigned_to"`
	UnreadCount   int                 `json:"unread_count"`
	LastMessageAt *time.Time          `json:"last_message_at"`
	ClosedAt      *time.Time          `json:"closed_at"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// MessageResponse is one message of a ticket.
type MessageResponse struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	SenderType domain.SenderType `json:"sender_type"`
	SenderID   *string           `json:"sender_id"`
	Content    string            `json:"content"`
	MediaURL   *string           `json:"media_url"`
	MediaType  *string           `json:"media_type"`
	Read       bool              `json:"read"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID         string               `json:"id"`
	ActorType  domain.ActorType     `json:"actor_type"`
	ActorID    *string              `json:"actor_id"`
	Action     string               `json:"action"`
	FromStatus *domain.TicketStatus `json:"from_status"`
	ToStatus   *domain.TicketStatus `json:"to_status"`
	Note       *string              `json:"note"`
	CreatedAt  time.Time            `json:"created_at"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:            t.ID,
		ContactID:     t.ContactID,
		ConnectionID:  t.ConnectionID,
		Title:         t.Title,
		Status:        t.Status,
		AssignedTo:    t.AssignedTo,
		UnreadCount:   t.UnreadCount,
		LastMessageAt: t.LastMessageAt,
		ClosedAt:      t.ClosedAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// NewMessageResponse maps a message.
func NewMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		TicketID:   m.TicketID,
		SenderType: m.SenderType,
		SenderID:   m.SenderID,
		Content:    m.Content,
		MediaURL:   m.MediaURL,
		MediaType:  m.MediaType,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

// NewMessageResponses maps a message list, never returning nil.
func NewMessageResponses(msgs []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageResponse(&msgs[i]))
	}
	return out
}

// NewHistoryResponses maps audit entries.
func NewHistoryResponses(entries []domain.TicketHistory) []TicketHistoryResponse {
	out := make([]TicketHistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, TicketHistoryResponse{
			ID:         e.ID,
			ActorType:  e.ActorType,
			ActorID:    e.ActorID,
			Action:     e.Action,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Note:       e.Note,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}
