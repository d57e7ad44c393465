package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medref/medref/internal/platform/db"
)

const constraintOnePaymentPerCase = "emergency_payments_emergency_id_key"

// =========== Pool Repository ===========

type poolRepoPG struct{ pool *pgxpool.Pool }

func NewPoolRepoPG(pool *pgxpool.Pool) PoolRepository { return &poolRepoPG{pool: pool} }

func (r *poolRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const poolCols = `pool_id, country_code, currency_code, total_balance, reserved_balance, pool_status, last_updated_at`

func scanPool(row pgx.Row) (*Pool, error) {
	var p Pool
	err := row.Scan(&p.ID, &p.CountryCode, &p.CurrencyCode, &p.TotalBalance, &p.ReservedBalance, &p.Status, &p.LastUpdatedAt)
	return &p, err
}

func (r *poolRepoPG) LockActive(ctx context.Context, country, currency string) ([]*Pool, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+poolCols+` FROM country_pools
		WHERE country_code = $1 AND currency_code = $2 AND pool_status = 'ACTIVE'
		FOR UPDATE`, country, currency)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var pools []*Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, db.Classify(rows.Err())
}

func (r *poolRepoPG) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) (*Pool, error) {
	p, err := scanPool(r.conn(ctx).QueryRow(ctx, `
		UPDATE country_pools SET total_balance = total_balance - $2, last_updated_at = $3
		WHERE pool_id = $1
		RETURNING `+poolCols, id, amount, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPoolUnavailable
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("debit pool: %w", err))
	}
	return p, nil
}

func (r *poolRepoPG) Upsert(ctx context.Context, p *Pool) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO country_pools (pool_id, country_code, currency_code, total_balance, reserved_balance, pool_status, last_updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (country_code, currency_code) DO UPDATE
			SET total_balance = EXCLUDED.total_balance,
				reserved_balance = EXCLUDED.reserved_balance,
				pool_status = EXCLUDED.pool_status,
				last_updated_at = now()
		RETURNING pool_id, last_updated_at`,
		uuid.New(), p.CountryCode, p.CurrencyCode, p.TotalBalance, p.ReservedBalance, p.Status).
		Scan(&p.ID, &p.LastUpdatedAt)
	return db.Classify(err)
}

func (r *poolRepoPG) List(ctx context.Context) ([]*Pool, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+poolCols+` FROM country_pools ORDER BY country_code, currency_code`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var pools []*Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, db.Classify(rows.Err())
}

// =========== Record Repository ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository { return &recordRepoPG{pool: pool} }

func (r *recordRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `payment_id, emergency_id, pool_id, sender_hospital_ref_code, receiver_hospital_ref_code,
	sending_amount, sending_currency, receiving_amount, receiving_currency, fx_rate,
	fx_margin_percent, payment_status, aml_status, is_demo, created_at`

func (r *recordRepoPG) Insert(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emergency_payments (payment_id, emergency_id, pool_id, sender_hospital_ref_code,
			receiver_hospital_ref_code, sending_amount, sending_currency, receiving_amount,
			receiving_currency, fx_rate, fx_margin_percent, payment_status, aml_status, is_demo)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at`,
		rec.ID, rec.EmergencyID, rec.PoolID, rec.SenderHospitalRefCode,
		rec.ReceiverHospitalRefCode, rec.SendingAmount, rec.SendingCurrency, rec.ReceivingAmount,
		rec.ReceivingCurrency, rec.FXRate, rec.FXMarginPercent, rec.PaymentStatus, rec.AMLStatus, rec.IsDemo).
		Scan(&rec.CreatedAt)
	if db.IsUniqueViolation(err, constraintOnePaymentPerCase) {
		return ErrAlreadySettled
	}
	return db.Classify(err)
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM emergency_payments WHERE payment_id = $1`, id).
		Scan(&rec.ID, &rec.EmergencyID, &rec.PoolID, &rec.SenderHospitalRefCode, &rec.ReceiverHospitalRefCode,
			&rec.SendingAmount, &rec.SendingCurrency, &rec.ReceivingAmount, &rec.ReceivingCurrency, &rec.FXRate,
			&rec.FXMarginPercent, &rec.PaymentStatus, &rec.AMLStatus, &rec.IsDemo, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &rec, nil
}
