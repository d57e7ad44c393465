package aml

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/platform/db"
)

type hospitalSourcePG struct{ pool *pgxpool.Pool }

func NewHospitalSourcePG(pool *pgxpool.Pool) HospitalSource { return &hospitalSourcePG{pool: pool} }

func (r *hospitalSourcePG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *hospitalSourcePG) ListHospitals(ctx context.Context) ([]HospitalMeta, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT hospital_ref_code, hospital_name, country, verified_at, created_at FROM hospitals`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []HospitalMeta
	for rows.Next() {
		var h HospitalMeta
		if err := rows.Scan(&h.RefCode, &h.Name, &h.Country, &h.VerifiedAt, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, db.Classify(rows.Err())
}
