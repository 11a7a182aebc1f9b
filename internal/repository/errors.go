package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict reports that a write lost a uniqueness race against another writer.
var ErrConflict = errors.New("unique constraint violated")

const uniqueViolation = "23505"

// mapWriteError converts unique violations into ErrConflict, keeping the constraint name.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
