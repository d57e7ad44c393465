package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable marks failures where the store could not be reached or
// did not answer in time. Callers may retry the whole operation.
var ErrStoreUnavailable = errors.New("store unavailable")

const (
	codeUniqueViolation = "23505"
	codeQueryCanceled   = "57014"
	codeTooManyConns    = "53300"
)

// IsUniqueViolation reports whether err is a unique-constraint violation. When
// constraint is non-empty the violated constraint name must match as well.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Classify wraps connectivity and timeout failures with ErrStoreUnavailable and
// returns every other error unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeQueryCanceled, pgErr.Code == codeTooManyConns,
			strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
