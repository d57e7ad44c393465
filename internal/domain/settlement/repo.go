package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medref/medref/internal/domain/emergency"
)

// CaseReader loads the case being settled. emergency.Repository satisfies it.
type CaseReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*emergency.Case, error)
}

type PoolRepository interface {
	// LockActive returns every active pool for the pair and row-locks them
	// until the surrounding transaction ends.
	LockActive(ctx context.Context, country, currency string) ([]*Pool, error)
	Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) (*Pool, error)
	// Upsert creates the pool for the pair or resets its balance.
	Upsert(ctx context.Context, p *Pool) error
	List(ctx context.Context) ([]*Pool, error)
}

type RecordRepository interface {
	// Insert fails with ErrAlreadySettled when the case already has a record.
	Insert(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
}
