package oncology

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not found")

// HistoryRepository stores an append-only, per-patient series of records.
// Lists are newest first.
type HistoryRepository[T any] interface {
	Create(ctx context.Context, v *T) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*T, int, error)
	Latest(ctx context.Context, patientID string) (*T, error)
	DeleteByPatient(ctx context.Context, patientID string) error
}

type (
	DiagnosisRepository     = HistoryRepository[Diagnosis]
	PrognosisRepository     = HistoryRepository[Prognosis]
	RadiationPlanRepository = HistoryRepository[RadiationPlan]
)

// BiomarkerRepository orders readings by measurement time, newest first.
type BiomarkerRepository interface {
	Create(ctx context.Context, b *Biomarker) error
	ListByPatient(ctx context.Context, patientID string, f BiomarkerFilter) ([]*Biomarker, int, error)
	// Latest returns the most recent reading of one type.
	Latest(ctx context.Context, patientID, biomarkerType string) (*Biomarker, error)
	// LatestPerType returns the most recent reading of every type.
	LatestPerType(ctx context.Context, patientID string) ([]*Biomarker, error)
	DeleteByPatient(ctx context.Context, patientID string) error
}

type Repositories struct {
	Diagnoses      DiagnosisRepository
	Prognoses      PrognosisRepository
	RadiationPlans RadiationPlanRepository
	Biomarkers     BiomarkerRepository
}
