package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/media"
	"github.com/spec-kit/whatsapp-helpdesk/internal/observability"
	"github.com/spec-kit/whatsapp-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// Reasons an inbound event or message is dropped without error.
const (
	DropOutgoing        = "outgoing"
	DropNoSender        = "no_sender"
	DropUnsupportedChat = "unsupported_chat"
	DropUnknownInstance = "unknown_instance"
	DropDuplicate       = "duplicate"
	DropEmpty           = "empty_message"
	DropMalformed       = "malformed"
	DropUnhandledEvent  = "unhandled_event"
)

// maxResolveAttempts bounds find-or-create retries after losing a uniqueness race.
const maxResolveAttempts = 3

// DeliveryTracker remembers gateway message ids that were already stored.
type DeliveryTracker interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) (bool, error)
}

// MediaArchiver stores inbound media and returns a durable URL.
type MediaArchiver interface {
	Archive(ctx context.Context, obj media.Object) (string, error)
}

// IngestResult summarizes what one webhook event did.
type IngestResult struct {
	Event   string
	Stored  int
	Dropped map[string]int
}

// IngestionService applies gateway webhook events to the data model.
type IngestionService struct {
	connections repository.ConnectionRepository
	contacts    repository.ContactRepository
	tickets     repository.TicketRepository
	messages    repository.MessageRepository
	history     repository.TicketHistoryRepository
	tracker     DeliveryTracker
	gateway     gateway.Gateway
	archiver    MediaArchiver
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// IngestionDependencies bundles collaborators of the pipeline. Tracker,
// Gateway and Archiver are optional.
type IngestionDependencies struct {
	ConnectionRepo repository.ConnectionRepository
	ContactRepo    repository.ContactRepository
	TicketRepo     repository.TicketRepository
	MessageRepo    repository.MessageRepository
	HistoryRepo    repository.TicketHistoryRepository
	Tracker        DeliveryTracker
	Gateway        gateway.Gateway
	Archiver       MediaArchiver
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewIngestionService constructs the pipeline.
func NewIngestionService(deps IngestionDependencies) *IngestionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{
		connections: deps.ConnectionRepo,
		contacts:    deps.ContactRepo,
		tickets:     deps.TicketRepo,
		messages:    deps.MessageRepo,
		history:     deps.HistoryRepo,
		tracker:     deps.Tracker,
		gateway:     deps.Gateway,
		archiver:    deps.Archiver,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle processes one webhook envelope. Dropped messages are not errors; a
// returned error is transient when apperrors.IsTransient reports so and the
// gateway should redeliver.
func (s *IngestionService) Handle(ctx context.Context, env gateway.Envelope) (*IngestResult, error) {
	kind := env.Kind()
	s.metrics.RecordWebhookEvent(kind)
	result := &IngestResult{Event: kind, Dropped: map[string]int{}}

	var err error
	switch kind {
	case gateway.EventMessagesUpsert:
		err = s.handleMessages(ctx, env, result)
	case gateway.EventConnectionUpdate:
		err = s.handleConnectionUpdate(ctx, env, result)
	case gateway.EventQRCodeUpdated:
		err = s.handleQRCodeUpdated(ctx, env, result)
	default:
		s.drop(result, DropUnhandledEvent, zap.String("event", env.Event))
	}

	if err != nil {
		if apperrors.IsTransient(err) {
			s.metrics.RecordWebhookTransient()
			s.logger.Warn("webhook event failed, gateway should retry",
				zap.String("event", kind), zap.String("instance", env.Instance), zap.Error(err))
		} else {
			s.logger.Error("webhook event failed",
				zap.String("event", kind), zap.String("instance", env.Instance), zap.Error(err))
		}
	}
	return result, err
}

func (s *IngestionService) handleMessages(ctx context.Context, env gateway.Envelope, result *IngestResult) error {
	msgs, err := gateway.ParseMessages(env.Data)
	if err != nil {
		s.drop(result, DropMalformed, zap.String("instance", env.Instance), zap.Error(err))
		return nil
	}
	var conn *domain.Connection
	for _, msg := range msgs {
		if err := s.ingestMessage(ctx, env.Instance, &conn, msg, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *IngestionService) ingestMessage(ctx context.Context, instance string, conn **domain.Connection, msg gateway.MessageData, result *IngestResult) error {
	if msg.Key.FromMe {
		s.drop(result, DropOutgoing, zap.String("message_id", msg.Key.ID))
		return nil
	}
	if strings.TrimSpace(msg.Key.RemoteJID) == "" {
		s.drop(result, DropNoSender, zap.String("message_id", msg.Key.ID))
		return nil
	}
	phone, err := msg.Key.SenderPhone()
	if err != nil {
		s.drop(result, DropUnsupportedChat, zap.String("jid", msg.Key.RemoteJID))
		return nil
	}
	if msg.Message == nil {
		s.drop(result, DropEmpty, zap.String("message_id", msg.Key.ID))
		return nil
	}

	if *conn == nil {
		found, err := s.connections.GetByInstanceName(ctx, instance)
		if errors.Is(err, pgx.ErrNoRows) {
			s.drop(result, DropUnknownInstance, zap.String("instance", instance))
			return nil
		}
		if err != nil {
			return err
		}
		*conn = found
	}
	connection := *conn

	externalID := strings.TrimSpace(msg.Key.ID)
	if externalID != "" {
		duplicate, err := s.alreadyStored(ctx, connection, externalID)
		if err != nil {
			return err
		}
		if duplicate {
			s.drop(result, DropDuplicate, zap.String("message_id", externalID))
			return nil
		}
	}

	contact, err := s.resolveContact(ctx, connection.OrganizationID, phone, msg.PushName)
	if err != nil {
		return err
	}
	ticket, err := s.resolveTicket(ctx, connection, contact)
	if err != nil {
		return err
	}

	message := &domain.Message{
		TicketID:     ticket.ID,
		SenderType:   domain.SenderTypeContact,
		Content:      msg.Text(),
		ConnectionID: strPtr(connection.ID),
	}
	if externalID != "" {
		message.ExternalID = &externalID
	}
	if kind, mediaMsg := msg.Media(); kind != "" {
		message.MediaType = strPtr(kind)
		if url := s.archiveMedia(ctx, connection, phone, msg, kind, mediaMsg); url != "" {
			message.MediaURL = &url
		}
	}
	if message.Content == "" {
		message.Content = domain.MediaPlaceholder
	}

	if err := s.messages.Create(ctx, message); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.markStored(ctx, connection, externalID)
			s.drop(result, DropDuplicate, zap.String("message_id", externalID))
			return nil
		}
		return err
	}
	s.markStored(ctx, connection, externalID)
	s.metrics.RecordMessageStored()
	result.Stored++

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventMessageCreated,
		OrganizationID: connection.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          events.SystemActor(),
		Payload:        messagePayload(message),
	})
	return nil
}

// deliveryKey scopes a gateway message id to the instance that received it.
func deliveryKey(conn *domain.Connection, externalID string) string {
	return conn.InstanceName + ":" + externalID
}

// alreadyStored checks the tracker, then the store. Tracker failures only
// cost the fast path.
func (s *IngestionService) alreadyStored(ctx context.Context, conn *domain.Connection, externalID string) (bool, error) {
	if s.tracker != nil {
		seen, err := s.tracker.Seen(ctx, deliveryKey(conn, externalID))
		if err != nil {
			s.logger.Warn("delivery tracker lookup failed", zap.String("message_id", externalID), zap.Error(err))
		} else if seen {
			return true, nil
		}
	}
	exists, err := s.messages.ExistsByExternalID(ctx, conn.ID, externalID)
	if err != nil {
		return false, err
	}
	if exists {
		s.markStored(ctx, conn, externalID)
	}
	return exists, nil
}

func (s *IngestionService) markStored(ctx context.Context, conn *domain.Connection, externalID string) {
	if s.tracker == nil || externalID == "" {
		return
	}
	if _, err := s.tracker.Mark(ctx, deliveryKey(conn, externalID)); err != nil {
		s.logger.Warn("delivery tracker mark failed", zap.String("message_id", externalID), zap.Error(err))
	}
}

func (s *IngestionService) resolveContact(ctx context.Context, orgID, phone, pushName string) (*domain.Contact, error) {
	name := strings.TrimSpace(pushName)
	if name == "" {
		name = phone
	}
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		contact, err := s.contacts.GetByPhone(ctx, orgID, phone)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		contact = &domain.Contact{OrganizationID: orgID, Name: name, Phone: strPtr(phone)}
		err = s.contacts.Create(ctx, contact)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		s.logger.Debug("contact created concurrently", zap.String("organization_id", orgID), zap.Int("attempt", attempt))
	}
	return nil, apperrors.NewUnavailable("contact resolution kept conflicting", nil)
}

func (s *IngestionService) resolveTicket(ctx context.Context, conn *domain.Connection, contact *domain.Contact) (*domain.Ticket, error) {
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		ticket, err := s.tickets.FindActiveByContact(ctx, conn.OrganizationID, contact.ID)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		ticket = &domain.Ticket{
			OrganizationID: conn.OrganizationID,
			ContactID:      contact.ID,
			ConnectionID:   strPtr(conn.ID),
			Title:          "Atendimento - " + contact.Name,
			Status:         domain.TicketStatusOpen,
		}
		err = s.tickets.Create(ctx, ticket)
		if err == nil {
			s.ticketCreated(ctx, ticket)
			return ticket, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		s.logger.Debug("ticket created concurrently", zap.String("contact_id", contact.ID), zap.Int("attempt", attempt))
	}
	return nil, apperrors.NewUnavailable("ticket resolution kept conflicting", nil)
}

func (s *IngestionService) ticketCreated(ctx context.Context, ticket *domain.Ticket) {
	if s.history != nil {
		status := ticket.Status
		entry := &domain.TicketHistory{
			TicketID:  ticket.ID,
			ActorType: domain.ActorTypeSystem,
			Action:    "create",
			ToStatus:  &status,
		}
		if err := s.history.Create(ctx, entry); err != nil {
			s.logger.Warn("ticket history write failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventTicketCreated,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          events.SystemActor(),
		Payload: events.TicketCreatedPayload{
			ContactID:    ticket.ContactID,
			ConnectionID: ticket.ConnectionID,
			Title:        ticket.Title,
		},
	})
}

// archiveMedia stores the media in object storage. It returns "" when
// archiving is disabled or fails; the message is then stored without URL.
func (s *IngestionService) archiveMedia(ctx context.Context, conn *domain.Connection, phone string, msg gateway.MessageData, kind string, mediaMsg *gateway.MediaMessage) string {
	if s.archiver == nil {
		return ""
	}
	payload := msg.Message.Base64
	mimeType := ""
	if mediaMsg != nil {
		mimeType = mediaMsg.Mimetype
	}
	if payload == "" && s.gateway != nil {
		var req gateway.MediaBase64Request
		req.Message.Key = msg.Key
		resp, err := s.gateway.MediaBase64(ctx, conn.InstanceName, req)
		if err != nil {
			s.logger.Warn("media download failed", zap.String("message_id", msg.Key.ID), zap.Error(err))
			return ""
		}
		payload = resp.Base64
		if resp.Mimetype != "" {
			mimeType = resp.Mimetype
		}
	}
	if payload == "" {
		return ""
	}
	messageID := msg.Key.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	url, err := s.archiver.Archive(ctx, media.Object{
		OrganizationID: conn.OrganizationID,
		Phone:          phone,
		MessageID:      messageID,
		Kind:           kind,
		MimeType:       mimeType,
		Base64:         payload,
		ReceivedAt:     s.now(),
	})
	if err != nil {
		s.logger.Warn("media archive failed", zap.String("message_id", messageID), zap.Error(err))
		return ""
	}
	return url
}

func (s *IngestionService) handleConnectionUpdate(ctx context.Context, env gateway.Envelope, result *IngestResult) error {
	var data gateway.ConnectionUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil || strings.TrimSpace(data.State) == "" {
		s.drop(result, DropMalformed, zap.String("instance", env.Instance))
		return nil
	}
	update := repository.ConnectionStateUpdate{Status: domain.ConnectionStatusFromGateway(data.State)}
	switch update.Status {
	case domain.ConnectionStatusConnected:
		now := s.now()
		update.LastConnectedAt = &now
		update.ClearQRCode = true
	case domain.ConnectionStatusDisconnected:
		update.ClearQRCode = true
	}
	return s.applyConnectionState(ctx, env.Instance, update, result)
}

func (s *IngestionService) handleQRCodeUpdated(ctx context.Context, env gateway.Envelope, result *IngestResult) error {
	var data gateway.QRCodeUpdatedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.drop(result, DropMalformed, zap.String("instance", env.Instance))
		return nil
	}
	qr, err := media.NormalizeQRCode(data.QRCode.Base64, data.QRCode.Code)
	if err != nil {
		s.drop(result, DropMalformed, zap.String("instance", env.Instance), zap.Error(err))
		return nil
	}
	return s.applyConnectionState(ctx, env.Instance, repository.ConnectionStateUpdate{
		Status: domain.ConnectionStatusQRCode,
		QRCode: &qr,
	}, result)
}

func (s *IngestionService) applyConnectionState(ctx context.Context, instance string, update repository.ConnectionStateUpdate, result *IngestResult) error {
	conn, err := s.connections.ApplyState(ctx, instance, update)
	if errors.Is(err, pgx.ErrNoRows) {
		s.drop(result, DropUnknownInstance, zap.String("instance", instance))
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("connection state applied",
		zap.String("instance", instance),
		zap.String("status", string(conn.Status)))
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventConnectionUpdated,
		OrganizationID: conn.OrganizationID,
		Actor:          events.SystemActor(),
		Payload: events.ConnectionUpdatedPayload{
			ConnectionID: conn.ID,
			InstanceName: conn.InstanceName,
			Status:       conn.Status,
		},
	})
	return nil
}

func (s *IngestionService) drop(result *IngestResult, reason string, fields ...zap.Field) {
	result.Dropped[reason]++
	s.metrics.RecordWebhookDrop(reason)
	s.logger.Debug("webhook message dropped", append(fields, zap.String("reason", reason))...)
}

func messagePayload(msg *domain.Message) events.MessageCreatedPayload {
	return events.MessageCreatedPayload{
		MessageID:  msg.ID,
		SenderType: msg.SenderType,
		SenderID:   msg.SenderID,
		Content:    msg.Content,
		MediaURL:   msg.MediaURL,
		MediaType:  msg.MediaType,
		CreatedAt:  msg.CreatedAt,
	}
}
