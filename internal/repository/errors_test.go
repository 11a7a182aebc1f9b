package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapWriteError(t *testing.T) {
	assert.NoError(t, mapWriteError(nil))

	conflict := mapWriteError(&pgconn.PgError{Code: "23505", ConstraintName: "tickets_one_active_per_contact"})
	assert.ErrorIs(t, conflict, ErrConflict)
	assert.Contains(t, conflict.Error(), "tickets_one_active_per_contact")

	other := &pgconn.PgError{Code: "23503"}
	assert.Equal(t, other, mapWriteError(other))

	plain := errors.New("boom")
	assert.Equal(t, plain, mapWriteError(plain))
}

func TestPrefixedColumns(t *testing.T) {
	got := prefixed("t.", "id, organization_id,\n        status")
	assert.Equal(t, "t.id, t.organization_id, t.status", got)
}
