package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = dispatcher.Publish(ctx, event)
}

// notFound converts a missing row into a NotFound domain error.
func notFound(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return err
}

// gatewayFailure classifies a gateway error: an explicit refusal becomes
// GatewayRejected, anything else is treated as the gateway being unavailable.
func gatewayFailure(op string, err error) error {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && !gwErr.Transient() {
		return apperrors.NewGatewayRejected(fmt.Sprintf("gateway rejected %s: %s", op, gwErr.Message), err)
	}
	if errors.Is(err, gateway.ErrNotConfigured) {
		return apperrors.NewUnavailable("gateway not configured", err)
	}
	return apperrors.NewUnavailable(fmt.Sprintf("gateway unavailable during %s", op), err)
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func strPtr(s string) *string {
	return &s
}
