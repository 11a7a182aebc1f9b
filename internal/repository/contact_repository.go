package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// ContactRepository persists contacts. Phone is unique per organization.
type ContactRepository interface {
	Create(ctx context.Context, contact *domain.Contact) error
	Update(ctx context.Context, contact *domain.Contact) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Contact, error)
	GetByPhone(ctx context.Context, orgID, phone string) (*domain.Contact, error)
}

type contactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository instantiates repository.
func NewContactRepository(pool *pgxpool.Pool) ContactRepository {
	return &contactRepository{pool: pool}
}

const contactColumns = `id, organization_id, name, phone, email, document, city, state, notes, created_at, updated_at`

func (r *contactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	const query = `
        INSERT INTO contacts (organization_id, name, phone, email, document, city, state, notes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		contact.OrganizationID,
		contact.Name,
		contact.Phone,
		contact.Email,
		contact.Document,
		contact.City,
		contact.State,
		contact.Notes,
	).Scan(&contact.ID, &contact.CreatedAt, &contact.UpdatedAt)
	return mapWriteError(err)
}

func (r *contactRepository) Update(ctx context.Context, contact *domain.Contact) error {
	const query = `
        UPDATE contacts SET name=$1, phone=$2, email=$3, document=$4, city=$5, state=$6, notes=$7, updated_at=NOW()
        WHERE id=$8 AND organization_id=$9
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		contact.Name,
		contact.Phone,
		contact.Email,
		contact.Document,
		contact.City,
		contact.State,
		contact.Notes,
		contact.ID,
		contact.OrganizationID,
	).Scan(&contact.UpdatedAt)
	return mapWriteError(err)
}

func (r *contactRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id=$1 AND organization_id=$2`
	return scanContact(r.pool.QueryRow(ctx, query, id, orgID))
}

func (r *contactRepository) GetByPhone(ctx context.Context, orgID, phone string) (*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE organization_id=$1 AND phone=$2`
	return scanContact(r.pool.QueryRow(ctx, query, orgID, phone))
}

func scanContact(row pgx.Row) (*domain.Contact, error) {
	var contact domain.Contact
	if err := row.Scan(
		&contact.ID,
		&contact.OrganizationID,
		&contact.Name,
		&contact.Phone,
		&contact.Email,
		&contact.Document,
		&contact.City,
		&contact.State,
		&contact.Notes,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &contact, nil
}
