package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
)

// NotificationService fans domain events out to the realtime channel and the
// broker.
type NotificationService struct {
	dispatcher events.Dispatcher
	realtime   events.EventHandler
	broker     events.EventHandler
	logger     *zap.Logger
}

// NewNotificationService creates the service. realtime and broker may be nil.
func NewNotificationService(dispatcher events.Dispatcher, realtime, broker events.EventHandler, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		realtime:   realtime,
		broker:     broker,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventMessageCreated, n.handleMessageCreated)
	n.dispatcher.Subscribe(events.EventConnectionUpdated, n.handleConnectionUpdated)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.String("organization_id", event.OrganizationID))
	n.forwardToBroker(ctx, event)
	return n.pushRealtime(ctx, event)
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketStatusChanged", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.forwardToBroker(ctx, event)
	return n.pushRealtime(ctx, event)
}

func (n *NotificationService) handleMessageCreated(ctx context.Context, event events.Event) error {
	n.logger.Debug("MessageCreated", zap.String("ticket_id", event.TicketID))
	n.forwardToBroker(ctx, event)
	return n.pushRealtime(ctx, event)
}

func (n *NotificationService) handleConnectionUpdated(ctx context.Context, event events.Event) error {
	n.logger.Info("ConnectionUpdated", zap.String("organization_id", event.OrganizationID), zap.Any("payload", event.Payload))
	n.forwardToBroker(ctx, event)
	return nil
}

func (n *NotificationService) pushRealtime(ctx context.Context, event events.Event) error {
	if n.realtime == nil {
		return nil
	}
	return n.realtime(ctx, event)
}

// forwardToBroker never fails the caller; the broker is a best-effort copy.
func (n *NotificationService) forwardToBroker(ctx context.Context, event events.Event) {
	if n.broker == nil {
		return
	}
	if err := n.broker(ctx, event); err != nil {
		n.logger.Warn("broker publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}
