package emergency

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Case) error
	// GetByID returns ErrCaseNotFound for an unknown id.
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	ListBySource(ctx context.Context, refCode string, limit, offset int) ([]*Case, int, error)
	// ListByDestination returns the newest cases addressed to refCode whose
	// status is one of statuses.
	ListByDestination(ctx context.Context, refCode string, statuses []Status, limit int) ([]*Case, error)
	ListAll(ctx context.Context) ([]*Case, error)
}
