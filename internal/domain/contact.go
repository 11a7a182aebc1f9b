package domain

import (
	"strings"
	"time"
)

// Contact is a WhatsApp end user. Phone is unique within an organization.
type Contact struct {
	ID             string
	OrganizationID string
	Name           string
	Phone          *string
	Email          *string
	Document       *string
	City           *string
	State          *string
	Notes          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizePhone reduces a typed phone number to +digits. It returns "" when
// no digits remain.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
