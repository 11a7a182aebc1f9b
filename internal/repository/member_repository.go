package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
)

// MemberRepository reads organization members. Membership administration lives elsewhere.
type MemberRepository interface {
	GetByID(ctx context.Context, orgID, id string) (*domain.Member, error)
}

type memberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository instantiates the repository.
func NewMemberRepository(pool *pgxpool.Pool) MemberRepository {
	return &memberRepository{pool: pool}
}

func (r *memberRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Member, error) {
	const query = `
        SELECT id, organization_id, full_name, email, role, created_at
        FROM organization_members WHERE id=$1 AND organization_id=$2`
	var member domain.Member
	if err := r.pool.QueryRow(ctx, query, id, orgID).Scan(
		&member.ID,
		&member.OrganizationID,
		&member.FullName,
		&member.Email,
		&member.Role,
		&member.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &member, nil
}
