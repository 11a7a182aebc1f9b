package domain

import "time"

// Principal identifies the agent behind an authenticated request.
type Principal struct {
	MemberID       string
	OrganizationID string
	Role           MemberRole
	ExpiresAt      time.Time
}

// CanManageConnections reports whether the principal may provision or tear down connections.
func (p Principal) CanManageConnections() bool {
	return p.Role == MemberRoleOwner || p.Role == MemberRoleAdmin
}
