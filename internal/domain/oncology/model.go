package oncology

import (
	"time"

	"github.com/quantnex/quantnex/internal/platform/ai"
)

type (
	AlternativeDiagnosis = ai.AlternativeDiagnosis
	TreatmentScenario    = ai.TreatmentScenario
)

// Diagnosis is one entry in a patient's diagnosis history. The newest entry
// is the current diagnosis.
type Diagnosis struct {
	ID                   int64                  `db:"id" json:"id"`
	PatientID            string                 `db:"patient_id" json:"patientId"`
	PrimaryDiagnosis     string                 `db:"primary_diagnosis" json:"primaryDiagnosis"`
	Confidence           float64                `db:"confidence" json:"confidence"`
	Details              string                 `db:"details" json:"details"`
	AlternativeDiagnoses []AlternativeDiagnosis `db:"alternative_diagnoses" json:"alternativeDiagnoses"`
	Source               string                 `db:"source" json:"source"`
	Simulated            bool                   `db:"simulated" json:"simulated"`
	CreatedBy            string                 `db:"created_by" json:"createdBy"`
	CreatedAt            time.Time              `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time              `db:"updated_at" json:"updatedAt"`
}

type Prognosis struct {
	ID                 int64               `db:"id" json:"id"`
	PatientID          string              `db:"patient_id" json:"patientId"`
	Survival1Year      float64             `db:"survival_1_year" json:"survival1Year"`
	Survival3Year      float64             `db:"survival_3_year" json:"survival3Year"`
	Survival5Year      float64             `db:"survival_5_year" json:"survival5Year"`
	TreatmentScenarios []TreatmentScenario `db:"treatment_scenarios" json:"treatmentScenarios"`
	Source             string              `db:"source" json:"source"`
	Simulated          bool                `db:"simulated" json:"simulated"`
	CreatedBy          string              `db:"created_by" json:"createdBy"`
	CreatedAt          time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updatedAt"`
}

// RadiationPlan is a treatment plan summary. TotalDose is in Gy.
type RadiationPlan struct {
	ID                  int64     `db:"id" json:"id"`
	PatientID           string    `db:"patient_id" json:"patientId"`
	BeamAngles          int       `db:"beam_angles" json:"beamAngles"`
	TotalDose           float64   `db:"total_dose" json:"totalDose"`
	Fractions           int       `db:"fractions" json:"fractions"`
	TumorCoverage       float64   `db:"tumor_coverage" json:"tumorCoverage"`
	HealthyTissueSpared float64   `db:"healthy_tissue_spared" json:"healthyTissueSpared"`
	OrgansAtRisk        []string  `db:"organs_at_risk" json:"organsAtRisk"`
	OptimizationMethod  string    `db:"optimization_method" json:"optimizationMethod"`
	Source              string    `db:"source" json:"source"`
	Simulated           bool      `db:"simulated" json:"simulated"`
	CreatedBy           string    `db:"created_by" json:"createdBy"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// Biomarker is one lab reading. Readings are append-only.
type Biomarker struct {
	ID             int64     `db:"id" json:"id"`
	PatientID      string    `db:"patient_id" json:"patientId"`
	Type           string    `db:"type" json:"type"`
	Value          float64   `db:"value" json:"value"`
	Unit           string    `db:"unit" json:"unit"`
	NormalRangeMin *float64  `db:"normal_range_min" json:"normalRangeMin"`
	NormalRangeMax *float64  `db:"normal_range_max" json:"normalRangeMax"`
	Trend          string    `db:"trend" json:"trend"`
	MeasuredAt     time.Time `db:"measured_at" json:"measuredAt"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

func (d *Diagnosis) Key() int64 { return d.ID }

func (d *Diagnosis) Stamp(id int64, now time.Time) {
	d.ID, d.CreatedAt, d.UpdatedAt = id, now, now
}

func (d *Diagnosis) Touch(now time.Time) { d.UpdatedAt = now }

func (d *Diagnosis) patient() string { return d.PatientID }

func (p *Prognosis) Key() int64 { return p.ID }

func (p *Prognosis) Stamp(id int64, now time.Time) {
	p.ID, p.CreatedAt, p.UpdatedAt = id, now, now
}

func (p *Prognosis) Touch(now time.Time) { p.UpdatedAt = now }

func (p *Prognosis) patient() string { return p.PatientID }

func (r *RadiationPlan) Key() int64 { return r.ID }

func (r *RadiationPlan) Stamp(id int64, now time.Time) {
	r.ID, r.CreatedAt, r.UpdatedAt = id, now, now
}

func (r *RadiationPlan) Touch(now time.Time) { r.UpdatedAt = now }

func (r *RadiationPlan) patient() string { return r.PatientID }

func (b *Biomarker) Key() int64 { return b.ID }

func (b *Biomarker) Stamp(id int64, now time.Time) {
	b.ID, b.CreatedAt, b.UpdatedAt = id, now, now
	if b.MeasuredAt.IsZero() {
		b.MeasuredAt = now
	}
}

func (b *Biomarker) Touch(now time.Time) { b.UpdatedAt = now }

func (b *Biomarker) patient() string { return b.PatientID }

// -- Requests --
//
// Create requests arrive as JSON or as form fields; see decodeRequest.

type DiagnosisRequest struct {
	PrimaryDiagnosis     string                 `json:"primaryDiagnosis" validate:"required,max=255"`
	Confidence           *float64               `json:"confidence" validate:"required,unit"`
	Details              string                 `json:"details" validate:"max=4000"`
	AlternativeDiagnoses []AlternativeDiagnosis `json:"alternativeDiagnoses" validate:"max=20,dive"`
}

type PrognosisRequest struct {
	Survival1Year      *float64            `json:"survival1Year" validate:"required,unit"`
	Survival3Year      *float64            `json:"survival3Year" validate:"required,unit"`
	Survival5Year      *float64            `json:"survival5Year" validate:"required,unit"`
	TreatmentScenarios []TreatmentScenario `json:"treatmentScenarios" validate:"max=20,dive"`
}

type RadiationPlanRequest struct {
	BeamAngles          int      `json:"beamAngles" validate:"gte=1,lte=360"`
	TotalDose           float64  `json:"totalDose" validate:"gt=0"`
	Fractions           int      `json:"fractions" validate:"gte=1"`
	TumorCoverage       *float64 `json:"tumorCoverage" validate:"required,unit"`
	HealthyTissueSpared *float64 `json:"healthyTissueSpared" validate:"required,unit"`
	OrgansAtRisk        []string `json:"organsAtRisk" validate:"max=30,dive,required,max=64"`
	OptimizationMethod  string   `json:"optimizationMethod" validate:"max=128"`
}

type BiomarkerRequest struct {
	Type           string     `json:"type" validate:"required,max=64"`
	Value          *float64   `json:"value" validate:"required"`
	Unit           string     `json:"unit" validate:"max=32"`
	NormalRangeMin *float64   `json:"normalRangeMin"`
	NormalRangeMax *float64   `json:"normalRangeMax"`
	Trend          string     `json:"trend" validate:"omitempty,oneof=up down stable"`
	MeasuredAt     *time.Time `json:"measuredAt"`
}

type BiomarkerFilter struct {
	Type   string
	Limit  int
	Offset int
}
