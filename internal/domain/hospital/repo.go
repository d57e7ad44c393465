package hospital

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RequestRepository interface {
	Create(ctx context.Context, r *Request) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetCertificatePath(ctx context.Context, id uuid.UUID, path string) error
	// LockPending reads a pending request and holds a row lock on it until the
	// surrounding transaction ends. Missing and non-pending requests both
	// yield ErrNotFoundOrAlreadyProcessed.
	LockPending(ctx context.Context, id uuid.UUID) (*Request, error)
	MarkReviewed(ctx context.Context, id uuid.UUID, status RequestStatus, reviewerID string, at time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	ListByStatus(ctx context.Context, status RequestStatus, limit, offset int) ([]*Request, int, error)
	PendingEmailExists(ctx context.Context, email string) (bool, error)
	PendingRegistrationNumberExists(ctx context.Context, number string) (bool, error)
}

type HospitalRepository interface {
	// Insert fails with ErrDuplicateRefCode when the reference code is taken
	// and ErrAlreadyRegistered when the official email is.
	Insert(ctx context.Context, h *Hospital) error
	CountInJurisdiction(ctx context.Context, country, city string) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	GetByAuthUser(ctx context.Context, authUserID string) (*Hospital, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	PhoneExists(ctx context.Context, phone string) (bool, error)
	LinkAuthUser(ctx context.Context, id uuid.UUID, authUserID string) error
}

type SettlementAccountRepository interface {
	GetPrimary(ctx context.Context, hospitalID uuid.UUID) (*SettlementAccount, error)
	// Create fails with ErrAccountExists when the hospital already has a
	// primary account.
	Create(ctx context.Context, a *SettlementAccount) error
	Update(ctx context.Context, a *SettlementAccount) error
}
