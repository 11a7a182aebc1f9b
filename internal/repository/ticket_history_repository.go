package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// TicketHistoryRepository appends and reads the lifecycle audit trail.
// Entries are never updated or deleted.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

const historyColumns = `id, ticket_id, actor_type, actor_id, action, from_status, to_status, note, created_at`

func (r *ticketHistoryRepository) Create(ctx context.Context, entry *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, actor_type, actor_id, action, from_status, to_status, note)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		entry.TicketID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.FromStatus,
		entry.ToStatus,
		entry.Note,
	).Scan(&entry.ID, &entry.CreatedAt)
	return mapWriteError(err)
}

// ListByTicket returns the trail oldest first. Rows written in the same
// transaction share created_at, so id breaks the tie deterministically.
func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`,
		ticketID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanHistory)
}

func scanHistory(row pgx.CollectableRow) (domain.TicketHistory, error) {
	var h domain.TicketHistory
	err := row.Scan(
		&h.ID,
		&h.TicketID,
		&h.ActorType,
		&h.ActorID,
		&h.Action,
		&h.FromStatus,
		&h.ToStatus,
		&h.Note,
		&h.CreatedAt,
	)
	return h, err
}
