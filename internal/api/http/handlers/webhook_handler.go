package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/service"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// EnvelopeHandler processes one gateway webhook envelope.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env gateway.Envelope) (*service.IngestResult, error)
}

// WebhookHandler receives gateway callbacks. It answers with its own
// contract: 200 unless the body is undecodable (400) or the failure is
// transient (503), so the gateway only redelivers what can succeed later.
type WebhookHandler struct {
	ingestion EnvelopeHandler
	logger    *zap.Logger
}

// NewWebhookHandler constructs handler.
func NewWebhookHandler(ingestion EnvelopeHandler, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{ingestion: ingestion, logger: logger}
}

// Receive POST {WEBHOOK_PATH}.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	var env gateway.Envelope
	if err := json.Unmarshal(c.Body(), &env); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	result, err := h.ingestion.Handle(c.UserContext(), env)
	if err != nil {
		if apperrors.IsTransient(err) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		h.logger.Warn("webhook event discarded", zap.String("event", env.Event), zap.Error(err))
	}
	resp := fiber.Map{"success": true}
	if result != nil && result.Stored > 0 {
		resp["stored"] = result.Stored
	}
	return c.JSON(resp)
}
