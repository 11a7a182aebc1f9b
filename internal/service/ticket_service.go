package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	"github.com/spec-kit/whatsapp-helpdesk/internal/events"
	"github.com/spec-kit/whatsapp-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// autoCloseReason is recorded on tickets closed by the idle sweep.
const autoCloseReason = "auto_closed_idle"

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.MessageRepository
	contacts   repository.ContactRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	ContactRepo repository.ContactRepository
	HistoryRepo repository.TicketHistoryRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// TicketCreateInput describes a ticket opened by an agent.
type TicketCreateInput struct {
	ContactID    string
	Title        string
	ConnectionID *string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		contacts:   deps.ContactRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns a ticket of the caller's organization.
func (s *TicketService) Get(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, principal.OrganizationID, ticketID)
	if err != nil {
		return nil, notFound(err, "ticket", ticketID)
	}
	return ticket, nil
}

// CreateTicket opens a ticket for a contact. A contact holds at most one
// active ticket.
func (s *TicketService) CreateTicket(ctx context.Context, principal domain.Principal, input TicketCreateInput) (*domain.Ticket, error) {
	contact, err := s.contacts.GetByID(ctx, principal.OrganizationID, input.ContactID)
	if err != nil {
		return nil, notFound(err, "contact", input.ContactID)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Atendimento - " + contact.Name
	}
	ticket := &domain.Ticket{
		OrganizationID: principal.OrganizationID,
		ContactID:      contact.ID,
		ConnectionID:   trimmedPtr(input.ConnectionID),
		Title:          title,
		Status:         domain.TicketStatusOpen,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			details := map[string]any{"contact_id": contact.ID}
			if active, findErr := s.tickets.FindActiveByContact(ctx, principal.OrganizationID, contact.ID); findErr == nil {
				details["ticket_id"] = active.ID
			}
			return nil, apperrors.NewConflict("contact already has an active ticket", details)
		}
		return nil, err
	}
	actor := events.MemberActor(principal.MemberID)
	s.recordHistory(ctx, actor, ticket.ID, "create", nil, ticket.Status, "")
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventTicketCreated,
		OrganizationID: ticket.OrganizationID,
		TicketID:       ticket.ID,
		Actor:          actor,
		Payload: events.TicketCreatedPayload{
			ContactID:    ticket.ContactID,
			ConnectionID: ticket.ConnectionID,
			Title:        ticket.Title,
		},
	})
	return ticket, nil
}

// Accept assigns the ticket to the calling agent and moves it to in_progress.
func (s *TicketService) Accept(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error) {
	return s.transition(ctx, principal.OrganizationID, ticketID, domain.TicketActionAccept,
		events.MemberActor(principal.MemberID), &principal.MemberID, "", nil)
}

// CloseForNow parks an in_progress ticket as waiting.
func (s *TicketService) CloseForNow(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error) {
	return s.transition(ctx, principal.OrganizationID, ticketID, domain.TicketActionCloseForNow,
		events.MemberActor(principal.MemberID), nil, "", nil)
}

// Finish closes an active ticket.
func (s *TicketService) Finish(ctx context.Context, principal domain.Principal, ticketID string) (*domain.Ticket, error) {
	return s.transition(ctx, principal.OrganizationID, ticketID, domain.TicketActionFinish,
		events.MemberActor(principal.MemberID), nil, "", nil)
}

// CloseIdle closes a ticket on behalf of the system unless it saw activity at
// or after idleBefore. A message that arrived since the ticket was selected
// yields Conflict and the ticket stays open.
func (s *TicketService) CloseIdle(ctx context.Context, orgID, ticketID string, idleBefore time.Time) (*domain.Ticket, error) {
	return s.transition(ctx, orgID, ticketID, domain.TicketActionFinish, events.SystemActor(), nil, autoCloseReason, &idleBefore)
}

// SweepIdleTickets closes active tickets of auto-closing connections that saw
// no activity for idle. It returns how many were closed.
func (s *TicketService) SweepIdleTickets(ctx context.Context, idle time.Duration, limit int) (int, error) {
	idleBefore := s.now().Add(-idle)
	candidates, err := s.tickets.ListIdleAutoClose(ctx, idleBefore, limit)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, ticket := range candidates {
		if _, err := s.CloseIdle(ctx, ticket.OrganizationID, ticket.ID, idleBefore); err != nil {
			var domainErr *apperrors.DomainError
			if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeConflict {
				continue
			}
			s.logger.Warn("auto close failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}

// transition applies action as a compare-and-set write. Losing a race against
// another writer yields Conflict.
func (s *TicketService) transition(ctx context.Context, orgID, ticketID string, action domain.TicketAction, actor events.Actor, assignee *string, reason string, idleBefore *time.Time) (*domain.Ticket, error) {
	tr, ok := domain.TransitionFor(action)
	if !ok {
		return nil, apperrors.NewValidationError("unknown ticket action", map[string]any{"action": action})
	}
	current, err := s.tickets.GetByID(ctx, orgID, ticketID)
	if err != nil {
		return nil, notFound(err, "ticket", ticketID)
	}
	if !tr.Allows(current.Status) {
		return nil, apperrors.NewConflict(
			fmt.Sprintf("ticket cannot %s from %s", action, current.Status),
			map[string]any{"ticket_id": ticketID, "status": current.Status})
	}

	updated, err := s.tickets.Transition(ctx, repository.TicketTransition{
		OrganizationID: orgID,
		TicketID:       ticketID,
		From:           []domain.TicketStatus{current.Status},
		To:             tr.To,
		SetAssignee:    assignee != nil,
		AssignedTo:     assignee,
		IdleBefore:     idleBefore,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewConflict("ticket changed concurrently", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return nil, err
	}

	from := current.Status
	s.recordHistory(ctx, actor, ticketID, string(action), &from, updated.Status, reason)
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:           events.EventTicketStatusChanged,
		OrganizationID: orgID,
		TicketID:       ticketID,
		Actor:          actor,
		Payload: events.TicketStatusChangedPayload{
			OldStatus:  from,
			NewStatus:  updated.Status,
			AssignedTo: updated.AssignedTo,
			Reason:     reason,
		},
	})
	return updated, nil
}

// MarkRead flags every unread message of the ticket as read and resets the counter.
func (s *TicketService) MarkRead(ctx context.Context, principal domain.Principal, ticketID string) (int64, error) {
	ticket, err := s.Get(ctx, principal, ticketID)
	if err != nil {
		return 0, err
	}
	marked, err := s.messages.MarkTicketRead(ctx, ticket.ID)
	if err != nil {
		return 0, err
	}
	if err := s.tickets.ResetUnread(ctx, principal.OrganizationID, ticket.ID); err != nil {
		return 0, notFound(err, "ticket", ticketID)
	}
	return marked, nil
}

// ListMessages returns the ticket's messages in creation order.
func (s *TicketService) ListMessages(ctx context.Context, principal domain.Principal, ticketID string) ([]domain.Message, error) {
	ticket, err := s.Get(ctx, principal, ticketID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// ListHistory returns the audit trail of a ticket.
func (s *TicketService) ListHistory(ctx context.Context, principal domain.Principal, ticketID string) ([]domain.TicketHistory, error) {
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	ticket, err := s.Get(ctx, principal, ticketID)
	if err != nil {
		return nil, err
	}
	return s.history.ListByTicket(ctx, ticket.ID)
}

// recordHistory writes an audit entry. The status change is already committed,
// so a failed write is logged rather than returned.
func (s *TicketService) recordHistory(ctx context.Context, actor events.Actor, ticketID, action string, from *domain.TicketStatus, to domain.TicketStatus, note string) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:   ticketID,
		ActorType:  actor.Type,
		ActorID:    actor.MemberID,
		Action:     action,
		FromStatus: from,
		ToStatus:   &to,
	}
	if note != "" {
		entry.Note = &note
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("ticket history write failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}
