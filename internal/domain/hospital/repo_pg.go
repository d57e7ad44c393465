package hospital

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/platform/db"
)

// Constraint names from migrations/001_core.sql.
const (
	constraintRefCode       = "hospitals_ref_code_key"
	constraintOfficialEmail = "hospitals_official_email_key"
	constraintPrimaryAcct   = "hospital_settlement_accounts_one_primary"
)

// =========== Request Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, hospital_name, hospital_type, ownership_type, country, state, city,
	postal_code, address, official_email, official_phone, website, registration_number,
	admin_name, admin_contact, consent_given, request_status, registration_certificate_url,
	reviewed_by, reviewed_at, created_at`

func (r *requestRepoPG) scanRequest(row pgx.Row) (*Request, error) {
	var q Request
	err := row.Scan(&q.ID, &q.HospitalName, &q.HospitalType, &q.OwnershipType, &q.Country, &q.State, &q.City,
		&q.PostalCode, &q.Address, &q.OfficialEmail, &q.OfficialPhone, &q.Website, &q.RegistrationNumber,
		&q.AdminName, &q.AdminContact, &q.ConsentGiven, &q.RequestStatus, &q.RegistrationCertificateURL,
		&q.ReviewedBy, &q.ReviewedAt, &q.CreatedAt)
	return &q, err
}

func (r *requestRepoPG) Create(ctx context.Context, q *Request) error {
	q.ID = uuid.New()
	q.RequestStatus = StatusPending
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospital_requests (id, hospital_name, hospital_type, ownership_type, country, state, city,
			postal_code, address, official_email, official_phone, website, registration_number,
			admin_name, admin_contact, consent_given, request_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at`,
		q.ID, q.HospitalName, q.HospitalType, q.OwnershipType, q.Country, q.State, q.City,
		q.PostalCode, q.Address, q.OfficialEmail, q.OfficialPhone, q.Website, q.RegistrationNumber,
		q.AdminName, q.AdminContact, q.ConsentGiven, q.RequestStatus).Scan(&q.CreatedAt)
	return db.Classify(err)
}

func (r *requestRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM hospital_requests WHERE id = $1`, id)
	return db.Classify(err)
}

func (r *requestRepoPG) SetCertificatePath(ctx context.Context, id uuid.UUID, path string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE hospital_requests SET registration_certificate_url = $2 WHERE id = $1`, id, path)
	return db.Classify(err)
}

func (r *requestRepoPG) LockPending(ctx context.Context, id uuid.UUID) (*Request, error) {
	q, err := r.scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM hospital_requests WHERE id = $1 AND request_status = 'pending' FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFoundOrAlreadyProcessed
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("lock request: %w", err))
	}
	return q, nil
}

func (r *requestRepoPG) MarkReviewed(ctx context.Context, id uuid.UUID, status RequestStatus, reviewerID string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hospital_requests SET request_status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND request_status = 'pending'`, id, status, reviewerID, at)
	if err != nil {
		return db.Classify(fmt.Errorf("update request status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFoundOrAlreadyProcessed
	}
	return nil
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	q, err := r.scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM hospital_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFoundOrAlreadyProcessed
	}
	return q, db.Classify(err)
}

func (r *requestRepoPG) ListByStatus(ctx context.Context, status RequestStatus, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospital_requests WHERE request_status = $1`, status).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+requestCols+` FROM hospital_requests WHERE request_status = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		q, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, db.Classify(rows.Err())
}

func (r *requestRepoPG) PendingEmailExists(ctx context.Context, email string) (bool, error) {
	return exists(ctx, r.conn(ctx), `SELECT EXISTS (SELECT 1 FROM hospital_requests
		WHERE lower(official_email) = lower($1) AND request_status = 'pending')`, email)
}

func (r *requestRepoPG) PendingRegistrationNumberExists(ctx context.Context, number string) (bool, error) {
	return exists(ctx, r.conn(ctx), `SELECT EXISTS (SELECT 1 FROM hospital_requests
		WHERE registration_number = $1 AND request_status = 'pending')`, number)
}

func exists(ctx context.Context, q db.Querier, sql string, arg interface{}) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, sql, arg).Scan(&ok); err != nil {
		return false, db.Classify(err)
	}
	return ok, nil
}

// =========== Hospital Repository ===========

type hospitalRepoPG struct{ pool *pgxpool.Pool }

func NewHospitalRepoPG(pool *pgxpool.Pool) HospitalRepository { return &hospitalRepoPG{pool: pool} }

func (r *hospitalRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const hospitalCols = `id, hospital_ref_code, hospital_name, hospital_type, ownership_type, country, state, city,
	postal_code, address, official_email, official_phone, website, registration_number,
	registration_certificate_url, admin_name, admin_contact, auth_user_id, verified_by, verified_at, created_at`

func (r *hospitalRepoPG) scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.HospitalRefCode, &h.HospitalName, &h.HospitalType, &h.OwnershipType, &h.Country, &h.State, &h.City,
		&h.PostalCode, &h.Address, &h.OfficialEmail, &h.OfficialPhone, &h.Website, &h.RegistrationNumber,
		&h.RegistrationCertificateURL, &h.AdminName, &h.AdminContact, &h.AuthUserID, &h.VerifiedBy, &h.VerifiedAt, &h.CreatedAt)
	return &h, err
}

func (r *hospitalRepoPG) Insert(ctx context.Context, h *Hospital) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hospitals (id, hospital_ref_code, hospital_name, hospital_type, ownership_type, country, state, city,
			postal_code, address, official_email, official_phone, website, registration_number,
			registration_certificate_url, admin_name, admin_contact, verified_by, verified_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		h.ID, h.HospitalRefCode, h.HospitalName, h.HospitalType, h.OwnershipType, h.Country, h.State, h.City,
		h.PostalCode, h.Address, h.OfficialEmail, h.OfficialPhone, h.Website, h.RegistrationNumber,
		h.RegistrationCertificateURL, h.AdminName, h.AdminContact, h.VerifiedBy, h.VerifiedAt, h.CreatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, constraintRefCode):
		return fmt.Errorf("%w: %s", ErrDuplicateRefCode, h.HospitalRefCode)
	case db.IsUniqueViolation(err, constraintOfficialEmail):
		return ErrAlreadyRegistered
	}
	return db.Classify(fmt.Errorf("insert hospital: %w", err))
}

func (r *hospitalRepoPG) CountInJurisdiction(ctx context.Context, country, city string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospitals WHERE country = $1 AND city = $2`, country, city).Scan(&n)
	if err != nil {
		return 0, db.Classify(fmt.Errorf("count hospitals: %w", err))
	}
	return n, nil
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	h, err := r.scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHospitalNotFound
	}
	return h, db.Classify(err)
}

func (r *hospitalRepoPG) GetByAuthUser(ctx context.Context, authUserID string) (*Hospital, error) {
	h, err := r.scanHospital(r.conn(ctx).QueryRow(ctx,
		`SELECT `+hospitalCols+` FROM hospitals WHERE auth_user_id = $1 LIMIT 1`, authUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHospitalNotFound
	}
	return h, db.Classify(err)
}

func (r *hospitalRepoPG) EmailExists(ctx context.Context, email string) (bool, error) {
	return exists(ctx, r.conn(ctx), `SELECT EXISTS (SELECT 1 FROM hospitals WHERE lower(official_email) = lower($1))`, email)
}

func (r *hospitalRepoPG) PhoneExists(ctx context.Context, phone string) (bool, error) {
	return exists(ctx, r.conn(ctx), `SELECT EXISTS (SELECT 1 FROM hospitals WHERE official_phone = $1)`, phone)
}

func (r *hospitalRepoPG) LinkAuthUser(ctx context.Context, id uuid.UUID, authUserID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE hospitals SET auth_user_id = $2 WHERE id = $1`, id, authUserID)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHospitalNotFound
	}
	return nil
}

// =========== Settlement Account Repository ===========

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewSettlementAccountRepoPG(pool *pgxpool.Pool) SettlementAccountRepository {
	return &accountRepoPG{pool: pool}
}

func (r *accountRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const accountCols = `id, hospital_id, account_holder_name, bank_name, account_number, currency, country,
	ifsc_code, swift_code, iban, verification_status, is_primary, created_at, updated_at`

func (r *accountRepoPG) GetPrimary(ctx context.Context, hospitalID uuid.UUID) (*SettlementAccount, error) {
	var a SettlementAccount
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM hospital_settlement_accounts
		WHERE hospital_id = $1 AND is_primary LIMIT 1`, hospitalID).
		Scan(&a.ID, &a.HospitalID, &a.AccountHolderName, &a.BankName, &a.AccountNumber, &a.Currency, &a.Country,
			&a.IFSCCode, &a.SwiftCode, &a.IBAN, &a.VerificationStatus, &a.IsPrimary, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &a, nil
}

func (r *accountRepoPG) Create(ctx context.Context, a *SettlementAccount) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospital_settlement_accounts (id, hospital_id, account_holder_name, bank_name, account_number,
			currency, country, ifsc_code, swift_code, iban, verification_status, is_primary)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.HospitalID, a.AccountHolderName, a.BankName, a.AccountNumber,
		a.Currency, a.Country, a.IFSCCode, a.SwiftCode, a.IBAN, a.VerificationStatus, a.IsPrimary).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, constraintPrimaryAcct) {
		return ErrAccountExists
	}
	return db.Classify(err)
}

func (r *accountRepoPG) Update(ctx context.Context, a *SettlementAccount) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE hospital_settlement_accounts SET account_holder_name = $2, bank_name = $3, account_number = $4,
			currency = $5, country = $6, ifsc_code = $7, swift_code = $8, iban = $9, updated_at = NOW()
		WHERE id = $1 AND verification_status <> 'verified'
		RETURNING updated_at`,
		a.ID, a.AccountHolderName, a.BankName, a.AccountNumber,
		a.Currency, a.Country, a.IFSCCode, a.SwiftCode, a.IBAN).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountVerified
	}
	return db.Classify(err)
}
