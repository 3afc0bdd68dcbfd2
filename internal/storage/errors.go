package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// notFound wraps ErrNotFound with the entity that was looked up.
func notFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// isNoRows reports whether err is pgx's empty-result error.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
