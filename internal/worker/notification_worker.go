package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/service"
)

// StartNotificationWorker subscribes the realtime publisher and the broker
// sink to the dispatcher. Either sink may be nil.
func StartNotificationWorker(dispatcher events.Dispatcher, realtime *events.RedisPublisher, broker *events.AMQPSink, logger *zap.Logger) *service.NotificationService {
	var realtimeHandler, brokerHandler events.EventHandler
	if realtime != nil {
		realtimeHandler = realtime.Handle
	}
	if broker != nil {
		brokerHandler = broker.Handle
	}
	notifications := service.NewNotificationService(dispatcher, realtimeHandler, brokerHandler, logger)
	notifications.RegisterHandlers()
	return notifications
}
