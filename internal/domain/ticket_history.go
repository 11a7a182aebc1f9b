package domain

import "time"

// ActorType distinguishes agent actions from automated ones.
type ActorType string

const (
	ActorTypeMember ActorType = "member"
	ActorTypeSystem ActorType = "system"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID         string
	TicketID   string
	ActorType  ActorType
	ActorID    *string
	Action     string
	FromStatus *TicketStatus
	ToStatus   *TicketStatus
	Note       *string
	CreatedAt  time.Time
}
