package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/platform/db"
)

type resolverPG struct{ pool *pgxpool.Pool }

func NewResolverPG(pool *pgxpool.Pool) Resolver { return &resolverPG{pool: pool} }

func (r *resolverPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// resolveSQL checks doctors before hospital admins; a user registered as both
// resolves to the doctor.
const resolveSQL = `
	SELECT kind, doctor_id, hospital_id, hospital_ref_code, country FROM (
		SELECT 0 AS rank, 'DOCTOR' AS kind, d.id::text AS doctor_id,
			COALESCE(h.id::text, '') AS hospital_id,
			COALESCE(a.hospital_ref_code, '') AS hospital_ref_code,
			COALESCE(h.country, '') AS country
		FROM doctors d
		LEFT JOIN doctor_hospital_affiliations a ON a.doctor_id = d.id AND a.active
		LEFT JOIN hospitals h ON h.hospital_ref_code = a.hospital_ref_code
		WHERE d.auth_user_id = $1
		UNION ALL
		SELECT 1, 'HOSPITAL_ADMIN', '', h.id::text, h.hospital_ref_code, h.country
		FROM hospitals h
		WHERE h.auth_user_id = $1
	) candidates
	ORDER BY rank
	LIMIT 1`

func (r *resolverPG) Resolve(ctx context.Context, authUserID string) (Identity, error) {
	id := Identity{AuthUserID: authUserID}
	var kind string
	err := r.conn(ctx).QueryRow(ctx, resolveSQL, authUserID).
		Scan(&kind, &id.DoctorID, &id.HospitalID, &id.HospitalRefCode, &id.Country)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unrecognized(authUserID), nil
	}
	if err != nil {
		return Identity{}, db.Classify(fmt.Errorf("resolve identity: %w", err))
	}
	id.Kind = Kind(kind)
	return id, nil
}
