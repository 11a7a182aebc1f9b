package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// ConnectionStateUpdate is a partial write of gateway driven connection state.
// Nil fields leave the stored value untouched.
type ConnectionStateUpdate struct {
	Status          domain.ConnectionStatus
	PhoneNumber     *string
	QRCode          *string
	ClearQRCode     bool
	LastConnectedAt *time.Time
}

// ConnectionRepository persists gateway connections.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *domain.Connection) error
	Update(ctx context.Context, conn *domain.Connection) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Connection, error)
	GetByInstanceName(ctx context.Context, instanceName string) (*domain.Connection, error)
	GetDefault(ctx context.Context, orgID string) (*domain.Connection, error)
	ListByOrganization(ctx context.Context, orgID string) ([]domain.Connection, error)
	ApplyState(ctx context.Context, instanceName string, update ConnectionStateUpdate) (*domain.Connection, error)
	SetDefault(ctx context.Context, orgID, id string) error
	Delete(ctx context.Context, orgID, id string) error
}

type connectionRepository struct {
	pool *pgxpool.Pool
}

// NewConnectionRepository instantiates repository.
func NewConnectionRepository(pool *pgxpool.Pool) ConnectionRepository {
	return &connectionRepository{pool: pool}
}

const connectionColumns = `id, organization_id, instance_name, display_name, phone_number, status,
        is_default, auto_close_tickets, qr_code, last_connected_at, created_at, updated_at`

func (r *connectionRepository) Create(ctx context.Context, conn *domain.Connection) error {
	const query = `
        INSERT INTO whatsapp_connections (organization_id, instance_name, display_name, status, is_default, auto_close_tickets, qr_code)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		conn.OrganizationID,
		conn.InstanceName,
		conn.DisplayName,
		conn.Status,
		conn.IsDefault,
		conn.AutoCloseTickets,
		conn.QRCode,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	return mapWriteError(err)
}

func (r *connectionRepository) Update(ctx context.Context, conn *domain.Connection) error {
	const query = `
        UPDATE whatsapp_connections SET display_name=$1, auto_close_tickets=$2, updated_at=NOW()
        WHERE id=$3 AND organization_id=$4
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		conn.DisplayName,
		conn.AutoCloseTickets,
		conn.ID,
		conn.OrganizationID,
	).Scan(&conn.UpdatedAt)
}

func (r *connectionRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM whatsapp_connections WHERE id=$1 AND organization_id=$2`
	return scanConnection(r.pool.QueryRow(ctx, query, id, orgID))
}

func (r *connectionRepository) GetByInstanceName(ctx context.Context, instanceName string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM whatsapp_connections WHERE instance_name=$1`
	return scanConnection(r.pool.QueryRow(ctx, query, instanceName))
}

func (r *connectionRepository) GetDefault(ctx context.Context, orgID string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM whatsapp_connections WHERE organization_id=$1 AND is_default`
	return scanConnection(r.pool.QueryRow(ctx, query, orgID))
}

func (r *connectionRepository) ListByOrganization(ctx context.Context, orgID string) ([]domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM whatsapp_connections WHERE organization_id=$1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *conn)
	}
	return result, rows.Err()
}

func (r *connectionRepository) ApplyState(ctx context.Context, instanceName string, update ConnectionStateUpdate) (*domain.Connection, error) {
	query := `
        UPDATE whatsapp_connections SET
            status=$1,
            phone_number=COALESCE($2, phone_number),
            qr_code=CASE WHEN $3 THEN NULL ELSE COALESCE($4, qr_code) END,
            last_connected_at=COALESCE($5, last_connected_at),
            updated_at=NOW()
        WHERE instance_name=$6
        RETURNING ` + connectionColumns
	return scanConnection(r.pool.QueryRow(ctx, query,
		update.Status,
		update.PhoneNumber,
		update.ClearQRCode,
		update.QRCode,
		update.LastConnectedAt,
		instanceName,
	))
}

// SetDefault clears and sets the default flag in one transaction. The
// organization's rows are locked first so concurrent calls serialize.
func (r *connectionRepository) SetDefault(ctx context.Context, orgID, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT id FROM whatsapp_connections WHERE organization_id=$1 ORDER BY id FOR UPDATE`, orgID)
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var rowID string
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return err
		}
		if rowID == id {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if !found {
		return pgx.ErrNoRows
	}

	if _, err := tx.Exec(ctx, `UPDATE whatsapp_connections SET is_default=FALSE, updated_at=NOW() WHERE organization_id=$1 AND is_default`, orgID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE whatsapp_connections SET is_default=TRUE, updated_at=NOW() WHERE id=$1 AND organization_id=$2`, id, orgID); err != nil {
		return mapWriteError(err)
	}
	return tx.Commit(ctx)
}

func (r *connectionRepository) Delete(ctx context.Context, orgID, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM whatsapp_connections WHERE id=$1 AND organization_id=$2`, id, orgID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var conn domain.Connection
	if err := row.Scan(
		&conn.ID,
		&conn.OrganizationID,
		&conn.InstanceName,
		&conn.DisplayName,
		&conn.PhoneNumber,
		&conn.Status,
		&conn.IsDefault,
		&conn.AutoCloseTickets,
		&conn.QRCode,
		&conn.LastConnectedAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &conn, nil
}
