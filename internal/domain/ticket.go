package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusWaiting    TicketStatus = "waiting"
	TicketStatusClosed     TicketStatus = "closed"
)

// ActiveTicketStatuses are the statuses eligible for inbound message routing.
var ActiveTicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusWaiting,
}

// IsActive reports whether the status is not terminal.
func (s TicketStatus) IsActive() bool {
	return s != TicketStatusClosed && s != ""
}

// TicketAction names an agent triggered transition.
type TicketAction string

const (
	TicketActionAccept      TicketAction = "accept"
	TicketActionCloseForNow TicketAction = "close-for-now"
	TicketActionFinish      TicketAction = "finish"
)

// Transition describes the legal source states and the target of an action.
type Transition struct {
	From []TicketStatus
	To   TicketStatus
}

var ticketTransitions = map[TicketAction]Transition{
	TicketActionAccept:      {From: []TicketStatus{TicketStatusOpen, TicketStatusWaiting}, To: TicketStatusInProgress},
	TicketActionCloseForNow: {From: []TicketStatus{TicketStatusInProgress}, To: TicketStatusWaiting},
	TicketActionFinish:      {From: ActiveTicketStatuses, To: TicketStatusClosed},
}

// TransitionFor returns the transition for action.
func TransitionFor(action TicketAction) (Transition, bool) {
	t, ok := ticketTransitions[action]
	return t, ok
}

// Allows reports whether the transition may start from status.
func (t Transition) Allows(status TicketStatus) bool {
	for _, s := range t.From {
		if s == status {
			return true
		}
	}
	return false
}

// Ticket is one conversation thread between an organization and a contact.
type Ticket struct {
	ID             string
	OrganizationID string
	ContactID      string
	ConnectionID   *string
	Title          string
	Status         TicketStatus
	AssignedTo     *string
	ColumnID       *string
	Position       int
	UnreadCount    int
	LastMessageAt  *time.Time
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LastActivity returns the last message time, falling back to creation time.
func (t Ticket) LastActivity() time.Time {
	if t.LastMessageAt != nil {
		return *t.LastMessageAt
	}
	return t.CreatedAt
}
