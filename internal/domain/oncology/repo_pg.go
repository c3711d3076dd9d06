package oncology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantnex/quantnex/internal/platform/db"
)

// pgHistory implements HistoryRepository over one table. JSONB list columns
// are encoded by the record's insert func and decoded by its scan func.
type pgHistory[T any] struct {
	pool   *pgxpool.Pool
	table  string
	cols   string
	insert string
	args   func(*T) ([]interface{}, error)
	dest   func(*T) []interface{}
	scan   func(pgx.Row) (*T, error)
}

func (r *pgHistory[T]) Create(ctx context.Context, v *T) error {
	args, err := r.args(v)
	if err != nil {
		return err
	}
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, r.insert, args...).Scan(r.dest(v)...); err != nil {
		return fmt.Errorf("insert %s: %w", r.table, err)
	}
	return nil
}

func (r *pgHistory[T]) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*T, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM `+r.table+` WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", r.table, err)
	}
	rows, err := conn.Query(ctx, `SELECT `+r.cols+` FROM `+r.table+` WHERE patient_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", r.table, err)
	}
	defer rows.Close()
	items := make([]*T, 0)
	for rows.Next() {
		v, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (r *pgHistory[T]) Latest(ctx context.Context, patientID string) (*T, error) {
	return r.scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+r.cols+` FROM `+r.table+` WHERE patient_id = $1 ORDER BY id DESC LIMIT 1`, patientID))
}

func (r *pgHistory[T]) DeleteByPatient(ctx context.Context, patientID string) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM `+r.table+` WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("delete %s: %w", r.table, err)
	}
	return nil
}

func scanErr(table string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("scan %s: %w", table, err)
}

// jsonList encodes a list column, storing an empty array for nil.
func jsonList[E any](items []E) ([]byte, error) {
	if items == nil {
		items = []E{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode list column: %w", err)
	}
	return b, nil
}

func decodeList[E any](raw []byte) ([]E, error) {
	out := make([]E, 0)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode list column: %w", err)
	}
	return out, nil
}

func stampDest(id *int64, created, updated *time.Time) []interface{} {
	return []interface{}{id, created, updated}
}

// -- Diagnosis --

func newPGDiagnosisRepo(pool *pgxpool.Pool) DiagnosisRepository {
	const table = "diagnoses"
	return &pgHistory[Diagnosis]{
		pool:  pool,
		table: table,
		cols:  `id, patient_id, primary_diagnosis, confidence, details, alternative_diagnoses, source, simulated, created_by, created_at, updated_at`,
		insert: `INSERT INTO diagnoses (patient_id, primary_diagnosis, confidence, details, alternative_diagnoses, source, simulated, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`,
		args: func(d *Diagnosis) ([]interface{}, error) {
			alts, err := jsonList(d.AlternativeDiagnoses)
			if err != nil {
				return nil, err
			}
			return []interface{}{d.PatientID, d.PrimaryDiagnosis, d.Confidence, d.Details, alts, d.Source, d.Simulated, d.CreatedBy}, nil
		},
		dest: func(d *Diagnosis) []interface{} { return stampDest(&d.ID, &d.CreatedAt, &d.UpdatedAt) },
		scan: func(row pgx.Row) (*Diagnosis, error) {
			var (
				d    Diagnosis
				alts []byte
			)
			err := row.Scan(&d.ID, &d.PatientID, &d.PrimaryDiagnosis, &d.Confidence, &d.Details, &alts,
				&d.Source, &d.Simulated, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
			if err != nil {
				return nil, scanErr(table, err)
			}
			if d.AlternativeDiagnoses, err = decodeList[AlternativeDiagnosis](alts); err != nil {
				return nil, err
			}
			return &d, nil
		},
	}
}

// -- Prognosis --

func newPGPrognosisRepo(pool *pgxpool.Pool) PrognosisRepository {
	const table = "prognoses"
	return &pgHistory[Prognosis]{
		pool:  pool,
		table: table,
		cols:  `id, patient_id, survival_1_year, survival_3_year, survival_5_year, treatment_scenarios, source, simulated, created_by, created_at, updated_at`,
		insert: `INSERT INTO prognoses (patient_id, survival_1_year, survival_3_year, survival_5_year, treatment_scenarios, source, simulated, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`,
		args: func(p *Prognosis) ([]interface{}, error) {
			scenarios, err := jsonList(p.TreatmentScenarios)
			if err != nil {
				return nil, err
			}
			return []interface{}{p.PatientID, p.Survival1Year, p.Survival3Year, p.Survival5Year, scenarios, p.Source, p.Simulated, p.CreatedBy}, nil
		},
		dest: func(p *Prognosis) []interface{} { return stampDest(&p.ID, &p.CreatedAt, &p.UpdatedAt) },
		scan: func(row pgx.Row) (*Prognosis, error) {
			var (
				p         Prognosis
				scenarios []byte
			)
			err := row.Scan(&p.ID, &p.PatientID, &p.Survival1Year, &p.Survival3Year, &p.Survival5Year, &scenarios,
				&p.Source, &p.Simulated, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
			if err != nil {
				return nil, scanErr(table, err)
			}
			if p.TreatmentScenarios, err = decodeList[TreatmentScenario](scenarios); err != nil {
				return nil, err
			}
			return &p, nil
		},
	}
}

// -- Radiation Plan --

func newPGRadiationPlanRepo(pool *pgxpool.Pool) RadiationPlanRepository {
	const table = "radiation_plans"
	return &pgHistory[RadiationPlan]{
		pool:  pool,
		table: table,
		cols: `id, patient_id, beam_angles, total_dose, fractions, tumor_coverage, healthy_tissue_spared, organs_at_risk,
			optimization_method, source, simulated, created_by, created_at, updated_at`,
		insert: `INSERT INTO radiation_plans (patient_id, beam_angles, total_dose, fractions, tumor_coverage, healthy_tissue_spared,
				organs_at_risk, optimization_method, source, simulated, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at`,
		args: func(r *RadiationPlan) ([]interface{}, error) {
			organs, err := jsonList(r.OrgansAtRisk)
			if err != nil {
				return nil, err
			}
			return []interface{}{r.PatientID, r.BeamAngles, r.TotalDose, r.Fractions, r.TumorCoverage, r.HealthyTissueSpared,
				organs, r.OptimizationMethod, r.Source, r.Simulated, r.CreatedBy}, nil
		},
		dest: func(r *RadiationPlan) []interface{} { return stampDest(&r.ID, &r.CreatedAt, &r.UpdatedAt) },
		scan: func(row pgx.Row) (*RadiationPlan, error) {
			var (
				r      RadiationPlan
				organs []byte
			)
			err := row.Scan(&r.ID, &r.PatientID, &r.BeamAngles, &r.TotalDose, &r.Fractions, &r.TumorCoverage,
				&r.HealthyTissueSpared, &organs, &r.OptimizationMethod, &r.Source, &r.Simulated, &r.CreatedBy,
				&r.CreatedAt, &r.UpdatedAt)
			if err != nil {
				return nil, scanErr(table, err)
			}
			if r.OrgansAtRisk, err = decodeList[string](organs); err != nil {
				return nil, err
			}
			return &r, nil
		},
	}
}

// -- Biomarker --

type pgBiomarkerRepo struct{ pool *pgxpool.Pool }

const biomarkerCols = `id, patient_id, type, value, unit, normal_range_min, normal_range_max, trend, measured_at, created_at, updated_at`

func (r *pgBiomarkerRepo) scanBiomarker(row pgx.Row) (*Biomarker, error) {
	var b Biomarker
	err := row.Scan(&b.ID, &b.PatientID, &b.Type, &b.Value, &b.Unit, &b.NormalRangeMin, &b.NormalRangeMax,
		&b.Trend, &b.MeasuredAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, scanErr("biomarkers", err)
	}
	return &b, nil
}

func (r *pgBiomarkerRepo) Create(ctx context.Context, b *Biomarker) error {
	var measured interface{}
	if !b.MeasuredAt.IsZero() {
		measured = b.MeasuredAt
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO biomarkers (patient_id, type, value, unit, normal_range_min, normal_range_max, trend, measured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		RETURNING id, measured_at, created_at, updated_at`,
		b.PatientID, b.Type, b.Value, b.Unit, b.NormalRangeMin, b.NormalRangeMax, b.Trend, measured,
	).Scan(&b.ID, &b.MeasuredAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert biomarker: %w", err)
	}
	return nil
}

func (r *pgBiomarkerRepo) ListByPatient(ctx context.Context, patientID string, f BiomarkerFilter) ([]*Biomarker, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := ` WHERE patient_id = $1 AND ($2 = '' OR type = $2)`
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM biomarkers`+where, patientID, f.Type).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count biomarkers: %w", err)
	}
	rows, err := conn.Query(ctx, `SELECT `+biomarkerCols+` FROM biomarkers`+where+`
		ORDER BY measured_at DESC, id DESC LIMIT $3 OFFSET $4`, patientID, f.Type, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list biomarkers: %w", err)
	}
	return r.collect(rows, total)
}

func (r *pgBiomarkerRepo) collect(rows pgx.Rows, total int) ([]*Biomarker, int, error) {
	defer rows.Close()
	items := make([]*Biomarker, 0)
	for rows.Next() {
		b, err := r.scanBiomarker(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *pgBiomarkerRepo) Latest(ctx context.Context, patientID, biomarkerType string) (*Biomarker, error) {
	return r.scanBiomarker(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+biomarkerCols+` FROM biomarkers
		WHERE patient_id = $1 AND type = $2 ORDER BY measured_at DESC, id DESC LIMIT 1`, patientID, biomarkerType))
}

func (r *pgBiomarkerRepo) LatestPerType(ctx context.Context, patientID string) ([]*Biomarker, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT DISTINCT ON (type) `+biomarkerCols+` FROM biomarkers
		WHERE patient_id = $1 ORDER BY type, measured_at DESC, id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("latest biomarkers: %w", err)
	}
	items, _, err := r.collect(rows, 0)
	return items, err
}

func (r *pgBiomarkerRepo) DeleteByPatient(ctx context.Context, patientID string) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM biomarkers WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("delete biomarkers: %w", err)
	}
	return nil
}

func NewPGRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Diagnoses:      newPGDiagnosisRepo(pool),
		Prognoses:      newPGPrognosisRepo(pool),
		RadiationPlans: newPGRadiationPlanRepo(pool),
		Biomarkers:     &pgBiomarkerRepo{pool: pool},
	}
}
