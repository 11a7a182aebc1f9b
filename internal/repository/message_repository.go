package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// MessageRepository manages the append-only message log of a ticket.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	ExistsByExternalID(ctx context.Context, connectionID, externalID string) (bool, error)
	SetExternalID(ctx context.Context, id, connectionID, externalID string) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error)
	MarkTicketRead(ctx context.Context, ticketID string) (int64, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

// Create appends a message. created_at and seq are assigned by the store so
// ordering reflects commit order, not gateway timestamps. A repeated
// (connection_id, external_id) pair surfaces as ErrConflict.
func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO messages (ticket_id, sender_type, sender_id, content, media_url, media_type, connection_id, external_id, read)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, seq, created_at`
	err := r.pool.QueryRow(ctx, query,
		msg.TicketID,
		msg.SenderType,
		msg.SenderID,
		msg.Content,
		msg.MediaURL,
		msg.MediaType,
		msg.ConnectionID,
		msg.ExternalID,
		msg.Read,
	).Scan(&msg.ID, &msg.Seq, &msg.CreatedAt)
	return mapWriteError(err)
}

func (r *messageRepository) ExistsByExternalID(ctx context.Context, connectionID, externalID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE connection_id=$1 AND external_id=$2)`,
		connectionID, externalID).Scan(&exists)
	return exists, err
}

// SetExternalID records the id the gateway assigned to an outbound message
// and the connection it went out on.
func (r *messageRepository) SetExternalID(ctx context.Context, id, connectionID, externalID string) error {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE messages SET connection_id=$1, external_id=$2 WHERE id=$3 AND external_id IS NULL`,
		connectionID, externalID, id)
	if err != nil {
		return mapWriteError(err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *messageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	const query = `
        SELECT id, seq, ticket_id, sender_type, sender_id, content, media_url, media_type, connection_id, external_id, read, created_at
        FROM messages WHERE ticket_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Seq,
			&msg.TicketID,
			&msg.SenderType,
			&msg.SenderID,
			&msg.Content,
			&msg.MediaURL,
			&msg.MediaType,
			&msg.ConnectionID,
			&msg.ExternalID,
			&msg.Read,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (r *messageRepository) MarkTicketRead(ctx context.Context, ticketID string) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `UPDATE messages SET read=TRUE WHERE ticket_id=$1 AND NOT read`, ticketID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
