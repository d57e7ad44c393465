package emergency

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medref/medref/internal/platform/db"
)

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &caseRepoPG{pool: pool} }

func (r *caseRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const caseCols = `emergency_id, status, source_hospital_ref_code, source_country,
	destination_hospital_ref_code, destination_country, patient_age, patient_gender,
	patient_nationality, primary_diagnosis_code, diagnosis_code_system, life_threatening,
	urgency_level, treatment_complexity, consciousness_status, airway_status,
	breathing_status, circulation_status, primary_procedure_code, procedure_code_system,
	required_specialty, estimated_treatment_cost, currency, automation_justification_code,
	emergency_override_consent, consent_reason, created_by, created_at`

func (r *caseRepoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.Status, &c.SourceHospitalRefCode, &c.SourceCountry,
		&c.DestinationHospitalRefCode, &c.DestinationCountry, &c.PatientAge, &c.PatientGender,
		&c.PatientNationality, &c.PrimaryDiagnosisCode, &c.DiagnosisCodeSystem, &c.LifeThreatening,
		&c.UrgencyLevel, &c.TreatmentComplexity, &c.ConsciousnessStatus, &c.AirwayStatus,
		&c.BreathingStatus, &c.CirculationStatus, &c.PrimaryProcedureCode, &c.ProcedureCodeSystem,
		&c.RequiredSpecialty, &c.EstimatedTreatmentCost, &c.Currency, &c.AutomationJustificationCode,
		&c.EmergencyOverrideConsent, &c.ConsentReason, &c.CreatedBy, &c.CreatedAt)
	return &c, err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emergency_cases (emergency_id, status, source_hospital_ref_code, source_country,
			destination_hospital_ref_code, destination_country, patient_age, patient_gender,
			patient_nationality, primary_diagnosis_code, diagnosis_code_system, life_threatening,
			urgency_level, treatment_complexity, consciousness_status, airway_status,
			breathing_status, circulation_status, primary_procedure_code, procedure_code_system,
			required_specialty, estimated_treatment_cost, currency, automation_justification_code,
			emergency_override_consent, consent_reason, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		RETURNING created_at`,
		c.ID, c.Status, c.SourceHospitalRefCode, c.SourceCountry,
		c.DestinationHospitalRefCode, c.DestinationCountry, c.PatientAge, c.PatientGender,
		c.PatientNationality, c.PrimaryDiagnosisCode, c.DiagnosisCodeSystem, c.LifeThreatening,
		c.UrgencyLevel, c.TreatmentComplexity, c.ConsciousnessStatus, c.AirwayStatus,
		c.BreathingStatus, c.CirculationStatus, c.PrimaryProcedureCode, c.ProcedureCodeSystem,
		c.RequiredSpecialty, c.EstimatedTreatmentCost, c.Currency, c.AutomationJustificationCode,
		c.EmergencyOverrideConsent, c.ConsentReason, c.CreatedBy).Scan(&c.CreatedAt)
	return db.Classify(err)
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := r.scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM emergency_cases WHERE emergency_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return c, nil
}

func (r *caseRepoPG) ListBySource(ctx context.Context, refCode string, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM emergency_cases WHERE source_hospital_ref_code = $1`, refCode).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	items, err := r.list(ctx, `SELECT `+caseCols+` FROM emergency_cases WHERE source_hospital_ref_code = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, refCode, limit, offset)
	return items, total, err
}

func (r *caseRepoPG) ListByDestination(ctx context.Context, refCode string, statuses []Status, limit int) ([]*Case, error) {
	st := make([]string, len(statuses))
	for i, s := range statuses {
		st[i] = string(s)
	}
	return r.list(ctx, `SELECT `+caseCols+` FROM emergency_cases
		WHERE destination_hospital_ref_code = $1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT $3`, refCode, st, limit)
}

func (r *caseRepoPG) ListAll(ctx context.Context) ([]*Case, error) {
	return r.list(ctx, `SELECT `+caseCols+` FROM emergency_cases ORDER BY created_at`)
}

func (r *caseRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Case, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, db.Classify(rows.Err())
}
