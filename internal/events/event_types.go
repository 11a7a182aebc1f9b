package events

import (
	"time"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket.created"
	EventTicketStatusChanged EventType = "ticket.status_changed"
	EventMessageCreated      EventType = "message.created"
	EventConnectionUpdated   EventType = "connection.updated"
)

// AllEventTypes lists every type, used by sinks that forward everything.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventMessageCreated,
	EventConnectionUpdated,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type     domain.ActorType `json:"type"`
	MemberID *string          `json:"member_id,omitempty"`
}

// Event represents a domain event emitted after a successful commit.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	OrganizationID string      `json:"organization_id"`
	TicketID       string      `json:"ticket_id,omitempty"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ContactID    string  `json:"contact_id"`
	ConnectionID *string `json:"connection_id,omitempty"`
	Title        string  `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus  domain.TicketStatus `json:"old_status"`
	NewStatus  domain.TicketStatus `json:"new_status"`
	AssignedTo *string             `json:"assigned_to,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

// MessageCreatedPayload carries the stored message so subscribers can render it
// without reading the store.
type MessageCreatedPayload struct {
	MessageID  string            `json:"message_id"`
	SenderType domain.SenderType `json:"sender_type"`
	SenderID   *string           `json:"sender_id,omitempty"`
	Content    string            `json:"content"`
	MediaURL   *string           `json:"media_url,omitempty"`
	MediaType  *string           `json:"media_type,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ConnectionUpdatedPayload payload.
type ConnectionUpdatedPayload struct {
	ConnectionID string                  `json:"connection_id"`
	InstanceName string                  `json:"instance_name"`
	Status       domain.ConnectionStatus `json:"status"`
}

// SystemActor is used for pipeline and scheduler initiated events.
func SystemActor() Actor {
	return Actor{Type: domain.ActorTypeSystem}
}

// MemberActor is used for agent initiated events.
func MemberActor(memberID string) Actor {
	return Actor{Type: domain.ActorTypeMember, MemberID: &memberID}
}
