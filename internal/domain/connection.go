package domain

import (
	"strings"
	"time"
)

// ConnectionStatus is the pairing state of a gateway instance.
type ConnectionStatus string

const (
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusQRCode       ConnectionStatus = "qr_code"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// Connection binds one gateway instance to one organization.
type Connection struct {
	ID               string
	OrganizationID   string
	InstanceName     string
	DisplayName      string
	PhoneNumber      *string
	Status           ConnectionStatus
	IsDefault        bool
	AutoCloseTickets bool
	QRCode           *string
	LastConnectedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConnectionStatusFromGateway maps the gateway state vocabulary onto ConnectionStatus.
func ConnectionStatusFromGateway(state string) ConnectionStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open":
		return ConnectionStatusConnected
	case "close", "closed":
		return ConnectionStatusDisconnected
	default:
		return ConnectionStatusConnecting
	}
}
