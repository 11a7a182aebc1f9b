package dto

import (
	"time"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// Action names accepted by POST /actions.
const (
	ActionCreateInstance   = "create-instance"
	ActionGetQRCode        = "get-qrcode"
	ActionCheckStatus      = "check-status"
	ActionDisconnect       = "disconnect"
	ActionDeleteInstance   = "delete-instance"
	ActionSendMessage      = "send-message"
	ActionRestartAll       = "restart-all"
	ActionSetDefault       = "set-default"
	ActionUpdateConnection = "update-connection"
	ActionListConnections  = "list-connections"
)

// CreateInstanceParams for create-instance. InstanceName is accepted as a
// display name for older dashboards.
type CreateInstanceParams struct {
	DisplayName  string `mapstructure:"displayName"`
	InstanceName string `mapstructure:"instanceName"`
}

// ConnectionParams addresses one connection of the caller's organization.
type ConnectionParams struct {
	ConnectionID string `mapstructure:"connectionId"`
}

// UpdateConnectionParams for update-connection.
type UpdateConnectionParams struct {
	ConnectionID     string  `mapstructure:"connectionId"`
	DisplayName      *string `mapstructure:"displayName"`
	AutoCloseTickets *bool   `mapstructure:"autoCloseTickets"`
}

// SendMessageParams for send-message.
type SendMessageParams struct {
	TicketID  string  `mapstructure:"ticketId"`
	Message   string  `mapstructure:"message"`
	MediaURL  *string `mapstructure:"mediaUrl"`
	MediaType *string `mapstructure:"mediaType"`
}

// ConnectionResponse is the agent view of a connection.
type ConnectionResponse struct {
	ID               string                  `json:"id"`
	InstanceName     string                  `json:"instance_name"`
	DisplayName      string                  `json:"display_name"`
	PhoneNumber      *string                 `json:"phone_number"`
	Status           domain.ConnectionStatus `json:"status"`
	IsDefault        bool                    `json:"is_default"`
	AutoCloseTickets bool                    `json:"auto_close_tickets"`
	QRCode           *string                 `json:"qr_code"`
	LastConnectedAt  *time.Time              `json:"last_connected_at"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// RestartResultResponse is one entry of restart-all.
type RestartResultResponse struct {
	ID           string `json:"id"`
	InstanceName string `json:"instance_name"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// NewConnectionResponse maps a connection.
func NewConnectionResponse(c *domain.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:               c.ID,
		InstanceName:     c.InstanceName,
		DisplayName:      c.DisplayName,
		PhoneNumber:      c.PhoneNumber,
		Status:           c.Status,
		IsDefault:        c.IsDefault,
		AutoCloseTickets: c.AutoCloseTickets,
		QRCode:           c.QRCode,
		LastConnectedAt:  c.LastConnectedAt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}
