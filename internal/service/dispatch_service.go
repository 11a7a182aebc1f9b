package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/gateway"
	"github.com/spec-kit/whatsapp-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// Send endpoints chosen by media type.
const (
	SendEndpointText     = "text"
	SendEndpointImage    = "image"
	SendEndpointAudio    = "audio"
	SendEndpointDocument = "document"
)

// ErrNoConnection is reported when neither the ticket nor the organization has a connection.
var ErrNoConnection = errors.New("no connection")

// SendMessageInput is an agent reply.
type SendMessageInput struct {
	TicketID  string
	Content   string
	MediaURL  *string
	MediaType *string
}

// SendResult reports the stored message and whether the gateway accepted it.
// A stored but undelivered message is not an error.
type SendResult struct {
	Message          *domain.Message
	Delivered        bool
	DeliveryError    string
	GatewayMessageID string
}

// DispatchService records agent replies and hands them to the gateway.
type DispatchService struct {
	tickets     repository.TicketRepository
	contacts    repository.ContactRepository
	messages    repository.MessageRepository
	connections repository.ConnectionRepository
	gateway     gateway.Gateway
	dispatcher  events.Dispatcher
	logger      *zap.Logger
}

// DispatchDependencies bundles collaborators of the dispatcher.
type DispatchDependencies struct {
	TicketRepo     repository.TicketRepository
	ContactRepo    repository.ContactRepository
	MessageRepo    repository.MessageRepository
	ConnectionRepo repository.ConnectionRepository
	Gateway        gateway.Gateway
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
}

// NewDispatchService constructs the service.
func NewDispatchService(deps DispatchDependencies) *DispatchService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		tickets:     deps.TicketRepo,
		contacts:    deps.ContactRepo,
		messages:    deps.MessageRepo,
		connections: deps.ConnectionRepo,
		gateway:     deps.Gateway,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
	}
}

// SendEndpoint picks the gateway endpoint for a media type.
func SendEndpoint(mediaURL, mediaType *string) string {
	if mediaURL == nil || strings.TrimSpace(*mediaURL) == "" {
		return SendEndpointText
	}
	mt := ""
	if mediaType != nil {
		mt = strings.ToLower(strings.TrimSpace(*mediaType))
	}
	switch {
	case strings.HasPrefix(mt, "image/"), mt == "image":
		return SendEndpointImage
	case strings.HasPrefix(mt, "audio/"), mt == "audio":
		return SendEndpointAudio
	default:
		return SendEndpointDocument
	}
}

// Send stores the reply, then delivers it. Delivery failures are reported in
// the result; the stored message is never rolled back.
func (s *DispatchService) Send(ctx context.Context, principal domain.Principal, input SendMessageInput) (*SendResult, error) {
	content := strings.TrimSpace(input.Content)
	mediaURL := trimmedPtr(input.MediaURL)
	if content == "" && mediaURL == nil {
		return nil, apperrors.NewValidationError("content or media is required", map[string]any{"field": "content"})
	}
	ticket, err := s.tickets.GetByID(ctx, principal.OrganizationID, input.TicketID)
	if err != nil {
		return nil, notFound(err, "ticket", input.TicketID)
	}
	contact, err := s.contacts.GetByID(ctx, principal.OrganizationID, ticket.ContactID)
	if err != nil {
		return nil, notFound(err, "contact", ticket.ContactID)
	}

	msg := &domain.Message{
		TicketID:   ticket.ID,
		SenderType: domain.SenderTypeUser,
		SenderID:   strPtr(principal.MemberID),
		Content:    content,
		MediaURL:   mediaURL,
		MediaType:  trimmedPtr(input.MediaType),
		Read:       true,
	}
	if msg.Content == "" {
		msg.Content = domain.MediaPlaceholder
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventMessageCreated,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          events.MemberActor(principal.MemberID),
		Payload:        messagePayload(msg),
	})

	result := &SendResult{Message: msg}
	if contact.Phone == nil || *contact.Phone == "" {
		result.DeliveryError = "contact has no phone number"
		return result, nil
	}
	conn, err := s.resolveConnection(ctx, ticket)
	if err != nil {
		result.DeliveryError = err.Error()
		s.logger.Warn("message stored without delivery", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return result, nil
	}

	resp, err := s.deliver(ctx, conn.InstanceName, gateway.GatewayNumber(*contact.Phone), content, msg)
	if err != nil {
		result.DeliveryError = err.Error()
		s.logger.Warn("gateway delivery failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("instance", conn.InstanceName),
			zap.Error(err))
		return result, nil
	}
	result.Delivered = true
	result.GatewayMessageID = resp.Key.ID
	if resp.Key.ID != "" {
		if err := s.messages.SetExternalID(ctx, msg.ID, conn.ID, resp.Key.ID); err != nil {
			s.logger.Warn("store gateway message id failed", zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			msg.ConnectionID = strPtr(conn.ID)
			msg.ExternalID = strPtr(resp.Key.ID)
		}
	}
	return result, nil
}

// resolveConnection prefers the ticket's connection and falls back to the
// organization default.
func (s *DispatchService) resolveConnection(ctx context.Context, ticket *domain.Ticket) (*domain.Connection, error) {
	if ticket.ConnectionID != nil {
		conn, err := s.connections.GetByID(ctx, ticket.OrganizationID, *ticket.ConnectionID)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	conn, err := s.connections.GetDefault(ctx, ticket.OrganizationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoConnection
	}
	return conn, err
}

func (s *DispatchService) deliver(ctx context.Context, instance, number, caption string, msg *domain.Message) (*gateway.SendResponse, error) {
	switch SendEndpoint(msg.MediaURL, msg.MediaType) {
	case SendEndpointText:
		return s.gateway.SendText(ctx, instance, gateway.SendTextRequest{Number: number, Text: msg.Content})
	case SendEndpointAudio:
		return s.gateway.SendAudio(ctx, instance, gateway.SendAudioRequest{Number: number, Audio: *msg.MediaURL})
	case SendEndpointImage:
		return s.gateway.SendMedia(ctx, instance, gateway.SendMediaRequest{
			Number:    number,
			MediaType: "image",
			Mimetype:  mimeOf(msg.MediaType),
			Media:     *msg.MediaURL,
			Caption:   caption,
		})
	default:
		return s.gateway.SendMedia(ctx, instance, gateway.SendMediaRequest{
			Number:    number,
			MediaType: "document",
			Mimetype:  mimeOf(msg.MediaType),
			Media:     *msg.MediaURL,
			Caption:   caption,
			FileName:  fileNameFromURL(*msg.MediaURL),
		})
	}
}

// mimeOf returns mediaType when it is a full MIME type.
func mimeOf(mediaType *string) string {
	if mediaType == nil || !strings.Contains(*mediaType, "/") {
		return ""
	}
	return *mediaType
}

func fileNameFromURL(raw string) string {
	raw = strings.SplitN(raw, "?", 2)[0]
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	return raw
}
