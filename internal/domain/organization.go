package domain

import "time"

// Organization is the tenant boundary. Every other entity carries its id.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemberRole enumerates agent permissions inside an organization.
type MemberRole string

const (
	MemberRoleOwner MemberRole = "owner"
	MemberRoleAdmin MemberRole = "admin"
	MemberRoleAgent MemberRole = "agent"
)

// Member is an agent belonging to one organization.
type Member struct {
	ID             string
	OrganizationID string
	FullName       string
	Email          string
	Role           MemberRole
	CreatedAt      time.Time
}
