package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// TicketTransition is a compare-and-set status change. The write only applies
// when the stored status is one of From and, when IdleBefore is set, the
// ticket's last activity is still older than it.
type TicketTransition struct {
	OrganizationID string
	TicketID       string
	From           []domain.TicketStatus
	To             domain.TicketStatus
	SetAssignee    bool
	AssignedTo     *string
	IdleBefore     *time.Time
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Ticket, error)
	FindActiveByContact(ctx context.Context, orgID, contactID string) (*domain.Ticket, error)
	Transition(ctx context.Context, tr TicketTransition) (*domain.Ticket, error)
	ResetUnread(ctx context.Context, orgID, id string) error
	ListIdleAutoClose(ctx context.Context, idleBefore time.Time, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, organization_id, contact_id, whatsapp_connection_id, title, status, assigned_to,
        column_id, position, unread_count, last_message_at, closed_at, created_at, updated_at`

// Create inserts a ticket. A second active ticket for the same contact violates
// tickets_one_active_per_contact and surfaces as ErrConflict.
func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (organization_id, contact_id, whatsapp_connection_id, title, status, assigned_to)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.OrganizationID,
		ticket.ContactID,
		ticket.ConnectionID,
		ticket.Title,
		ticket.Status,
		ticket.AssignedTo,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	return mapWriteError(err)
}

func (r *ticketRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 AND organization_id=$2`
	return scanTicket(r.pool.QueryRow(ctx, query, id, orgID))
}

func (r *ticketRepository) FindActiveByContact(ctx context.Context, orgID, contactID string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE organization_id=$1 AND contact_id=$2 AND status = ANY($3)
        ORDER BY created_at DESC
        LIMIT 1`
	return scanTicket(r.pool.QueryRow(ctx, query, orgID, contactID, statusStrings(domain.ActiveTicketStatuses)))
}

func (r *ticketRepository) Transition(ctx context.Context, tr TicketTransition) (*domain.Ticket, error) {
	query := `
        UPDATE tickets SET
            status=$1,
            assigned_to=CASE WHEN $2 THEN $3 ELSE assigned_to END,
            closed_at=CASE WHEN $1 = 'closed' THEN NOW() ELSE closed_at END,
            updated_at=NOW()
        WHERE id=$4 AND organization_id=$5 AND status = ANY($6)
          AND ($7::timestamptz IS NULL OR COALESCE(last_message_at, created_at) < $7)
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query,
		string(tr.To),
		tr.SetAssignee,
		tr.AssignedTo,
		tr.TicketID,
		tr.OrganizationID,
		statusStrings(tr.From),
		tr.IdleBefore,
	))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return ticket, nil
}

func (r *ticketRepository) ResetUnread(ctx context.Context, orgID, id string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE tickets SET unread_count=0, updated_at=NOW() WHERE id=$1 AND organization_id=$2`, id, orgID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListIdleAutoClose returns active tickets bound to an auto-closing connection
// whose last activity is older than idleBefore.
func (r *ticketRepository) ListIdleAutoClose(ctx context.Context, idleBefore time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + prefixed("t.", ticketColumns) + `
        FROM tickets t
        JOIN whatsapp_connections c ON c.id = t.whatsapp_connection_id
        WHERE c.auto_close_tickets AND t.status <> 'closed'
          AND COALESCE(t.last_message_at, t.created_at) < $1
        ORDER BY COALESCE(t.last_message_at, t.created_at) ASC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, idleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.OrganizationID,
		&ticket.ContactID,
		&ticket.ConnectionID,
		&ticket.Title,
		&ticket.Status,
		&ticket.AssignedTo,
		&ticket.ColumnID,
		&ticket.Position,
		&ticket.UnreadCount,
		&ticket.LastMessageAt,
		&ticket.ClosedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func statusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
