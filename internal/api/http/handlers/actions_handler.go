package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/spec-kit/whatsapp-helpdesk/internal/api/dto"
	"github.com/spec-kit/whatsapp-helpdesk/internal/auth"
	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/service"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// ConnectionRegistry is the part of the connection service the action
// endpoint drives.
type ConnectionRegistry interface {
	List(ctx context.Context, orgID string) ([]domain.Connection, error)
	Create(ctx context.Context, orgID, displayName string) (*service.CreateConnectionResult, error)
	Update(ctx context.Context, orgID, id string, input service.UpdateConnectionInput) (*domain.Connection, error)
	GetQRCode(ctx context.Context, orgID, id string) (*service.QRCodeResult, error)
	CheckStatus(ctx context.Context, orgID, id string) (*service.StatusResult, error)
	SetDefault(ctx context.Context, orgID, id string) (*domain.Connection, error)
	Disconnect(ctx context.Context, orgID, id string) (*domain.Connection, error)
	Delete(ctx context.Context, orgID, id string) error
	RestartAll(ctx context.Context, orgID string) ([]service.RestartResult, error)
}

// MessageSender delivers agent replies.
type MessageSender interface {
	Send(ctx context.Context, principal domain.Principal, input service.SendMessageInput) (*service.SendResult, error)
}

type actionFunc func(c *fiber.Ctx, principal domain.Principal, params map[string]any) error

// ActionsHandler serves the {action, ...params} endpoint used by the dashboard.
type ActionsHandler struct {
	connections ConnectionRegistry
	sender      MessageSender
	actions     map[string]actionFunc
	managerOnly map[string]bool
}

// NewActionsHandler constructs handler.
func NewActionsHandler(connections ConnectionRegistry, sender MessageSender) *ActionsHandler {
	h := &ActionsHandler{connections: connections, sender: sender}
	h.actions = map[string]actionFunc{
		dto.ActionCreateInstance:   h.createInstance,
		dto.ActionGetQRCode:        h.getQRCode,
		dto.ActionCheckStatus:      h.checkStatus,
		dto.ActionDisconnect:       h.disconnect,
		dto.ActionDeleteInstance:   h.deleteInstance,
		dto.ActionSendMessage:      h.sendMessage,
		dto.ActionRestartAll:       h.restartAll,
		dto.ActionSetDefault:       h.setDefault,
		dto.ActionUpdateConnection: h.updateConnection,
		dto.ActionListConnections:  h.listConnections,
	}
	h.managerOnly = map[string]bool{
		dto.ActionCreateInstance:   true,
		dto.ActionDisconnect:       true,
		dto.ActionDeleteInstance:   true,
		dto.ActionRestartAll:       true,
		dto.ActionSetDefault:       true,
		dto.ActionUpdateConnection: true,
	}
	return h
}

// Handle POST /actions.
func (h *ActionsHandler) Handle(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	params := map[string]any{}
	if err := c.BodyParser(&params); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	action, _ := params["action"].(string)
	action = strings.TrimSpace(action)
	run, exists := h.actions[action]
	if !exists {
		return apperrors.NewValidationError("unknown action", map[string]any{"action": action})
	}
	if h.managerOnly[action] {
		if err := auth.CheckConnectionManager(principal); err != nil {
			return err
		}
	}
	return run(c, principal, params)
}

func decodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := decoder.Decode(params); err != nil {
		return apperrors.NewValidationError("invalid action parameters", map[string]any{"reason": err.Error()})
	}
	return nil
}

func connectionID(params map[string]any) (string, error) {
	var p dto.ConnectionParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		return "", apperrors.NewValidationError("connectionId is required", map[string]any{"field": "connectionId"})
	}
	return strings.TrimSpace(p.ConnectionID), nil
}

func (h *ActionsHandler) createInstance(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	var p dto.CreateInstanceParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = strings.TrimSpace(p.InstanceName)
	}
	if name == "" {
		return apperrors.NewValidationError("displayName is required", map[string]any{"field": "displayName"})
	}
	result, err := h.connections.Create(c.UserContext(), principal.OrganizationID, name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"connection": dto.NewConnectionResponse(result.Connection),
		"qrCode":     result.QRCode,
	})
}

func (h *ActionsHandler) getQRCode(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	id, err := connectionID(params)
	if err != nil {
		return err
	}
	result, err := h.connections.GetQRCode(c.UserContext(), principal.OrganizationID, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"qrCode": result.QRCode, "pairingCode": result.PairingCode})
}

func (h *ActionsHandler) checkStatus(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	id, err := connectionID(params)
	if err != nil {
		return err
	}
	result, err := h.connections.CheckStatus(c.UserContext(), principal.OrganizationID, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"state":       result.State,
		"status":      result.Status,
		"connected":   result.Status == domain.ConnectionStatusConnected,
		"phoneNumber": result.PhoneNumber,
	})
}

func (h *ActionsHandler) disconnect(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	id, err := connectionID(params)
	if err != nil {
		return err
	}
	conn, err := h.connections.Disconnect(c.UserContext(), principal.OrganizationID, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "connection": dto.NewConnectionResponse(conn)})
}

func (h *ActionsHandler) deleteInstance(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	id, err := connectionID(params)
	if err != nil {
		return err
	}
	if err := h.connections.Delete(c.UserContext(), principal.OrganizationID, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *ActionsHandler) setDefault(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	id, err := connectionID(params)
	if err != nil {
		return err
	}
	conn, err := h.connections.SetDefault(c.UserContext(), principal.OrganizationID, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"connection": dto.NewConnectionResponse(conn)})
}

func (h *ActionsHandler) updateConnection(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	var p dto.UpdateConnectionParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		return apperrors.NewValidationError("connectionId is required", map[string]any{"field": "connectionId"})
	}
	conn, err := h.connections.Update(c.UserContext(), principal.OrganizationID, p.ConnectionID, service.UpdateConnectionInput{
		DisplayName:      p.DisplayName,
		AutoCloseTickets: p.AutoCloseTickets,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"connection": dto.NewConnectionResponse(conn)})
}

func (h *ActionsHandler) listConnections(c *fiber.Ctx, principal domain.Principal, _ map[string]any) error {
	conns, err := h.connections.List(c.UserContext(), principal.OrganizationID)
	if err != nil {
		return err
	}
	items := make([]dto.ConnectionResponse, 0, len(conns))
	for i := range conns {
		items = append(items, dto.NewConnectionResponse(&conns[i]))
	}
	return c.JSON(fiber.Map{"connections": items})
}

func (h *ActionsHandler) restartAll(c *fiber.Ctx, principal domain.Principal, _ map[string]any) error {
	results, err := h.connections.RestartAll(c.UserContext(), principal.OrganizationID)
	if err != nil {
		return err
	}
	items := make([]dto.RestartResultResponse, 0, len(results))
	for _, r := range results {
		items = append(items, dto.RestartResultResponse{
			ID:           r.ID,
			InstanceName: r.InstanceName,
			Success:      r.Success,
			Error:        r.Error,
		})
	}
	return c.JSON(fiber.Map{"results": items})
}

func (h *ActionsHandler) sendMessage(c *fiber.Ctx, principal domain.Principal, params map[string]any) error {
	var p dto.SendMessageParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.TicketID) == "" {
		return apperrors.NewValidationError("ticketId is required", map[string]any{"field": "ticketId"})
	}
	result, err := h.sender.Send(c.UserContext(), principal, service.SendMessageInput{
		TicketID:  p.TicketID,
		Content:   p.Message,
		MediaURL:  p.MediaURL,
		MediaType: p.MediaType,
	})
	if err != nil {
		return err
	}
	resp := fiber.Map{
		"success": result.Delivered,
		"message": dto.NewMessageResponse(result.Message),
	}
	if result.GatewayMessageID != "" {
		resp["messageId"] = result.GatewayMessageID
	}
	if result.DeliveryError != "" {
		resp["error"] = result.DeliveryError
	}
	return c.JSON(resp)
}
