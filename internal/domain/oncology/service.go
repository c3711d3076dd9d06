package oncology

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/domain/alert"
	"github.com/quantnex/quantnex/internal/domain/imaging"
	"github.com/quantnex/quantnex/internal/domain/patient"
	"github.com/quantnex/quantnex/internal/platform/ai"
	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/middleware"
)

type PatientLookup interface {
	Get(ctx context.Context, patientID string) (*patient.Patient, error)
}

// ScanSource returns a patient's most recent scan, or nil when there is none.
type ScanSource interface {
	Latest(ctx context.Context, patientID string) (*imaging.Scan, error)
}

type AlertRaiser interface {
	Raise(ctx context.Context, patientID, alertType, message, details string) (*alert.Alert, error)
}

// stableBand is the relative change under which a biomarker trend is stable.
const stableBand = 0.01

type Service struct {
	diagnoses  DiagnosisRepository
	prognoses  PrognosisRepository
	plans      RadiationPlanRepository
	biomarkers BiomarkerRepository

	patients PatientLookup
	scans    ScanSource
	alerts   AlertRaiser
	provider ai.PredictionProvider
	logger   zerolog.Logger
}

func NewService(
	repos Repositories,
	patients PatientLookup,
	scans ScanSource,
	alerts AlertRaiser,
	provider ai.PredictionProvider,
	logger zerolog.Logger,
) *Service {
	return &Service{
		diagnoses:  repos.Diagnoses,
		prognoses:  repos.Prognoses,
		plans:      repos.RadiationPlans,
		biomarkers: repos.Biomarkers,
		patients:   patients,
		scans:      scans,
		alerts:     alerts,
		provider:   provider,
		logger:     logger.With().Str("component", "oncology").Logger(),
	}
}

// DeleteByPatient implements patient.Cascader.
func (s *Service) DeleteByPatient(ctx context.Context, patientID string) (patient.AfterCommit, error) {
	if err := s.diagnoses.DeleteByPatient(ctx, patientID); err != nil {
		return nil, err
	}
	if err := s.prognoses.DeleteByPatient(ctx, patientID); err != nil {
		return nil, err
	}
	if err := s.plans.DeleteByPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return nil, s.biomarkers.DeleteByPatient(ctx, patientID)
}

// patientContext gathers what a prediction provider sees about a patient.
func (s *Service) patientContext(ctx context.Context, patientID string) (ai.PatientContext, error) {
	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return ai.PatientContext{}, err
	}
	pc := ai.PatientContext{
		PatientID:  p.PatientID,
		Age:        p.Age,
		Gender:     p.Gender,
		CancerType: p.CancerType,
		Stage:      p.Stage,
		Status:     p.Status,
	}
	scan, err := s.scans.Latest(ctx, patientID)
	if err != nil {
		return ai.PatientContext{}, err
	}
	if scan != nil {
		pc.LatestScan = &ai.ScanSummary{
			ScanType:        scan.ScanType,
			TumorDetected:   scan.TumorDetected,
			TumorSize:       scan.TumorSize,
			TumorLocation:   scan.TumorLocation,
			MalignancyScore: scan.MalignancyScore,
		}
	}
	readings, err := s.biomarkers.LatestPerType(ctx, patientID)
	if err != nil {
		return ai.PatientContext{}, err
	}
	for _, b := range readings {
		pc.Biomarkers = append(pc.Biomarkers, ai.BiomarkerRef{Type: b.Type, Value: b.Value, Unit: b.Unit, Trend: b.Trend})
	}
	return pc, nil
}

func (s *Service) providerError(kind string, err error) error {
	if ai.IsUpstream(err) {
		return apperr.Upstream(fmt.Errorf("generate %s: %w", kind, err))
	}
	return err
}

func (s *Service) logGenerated(kind string, patientID string, id int64) {
	s.logger.Info().
		Str("kind", kind).
		Str("patient_id", patientID).
		Int64("record_id", id).
		Str("provider", s.provider.Name()).
		Bool("simulated", s.provider.Simulated()).
		Msg("prediction stored")
}

func latest[T any](ctx context.Context, repo HistoryRepository[T], patients PatientLookup, patientID, resource string) (*T, error) {
	if _, err := patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	v, err := repo.Latest(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(resource)
	}
	return v, err
}

func list[T any](ctx context.Context, repo HistoryRepository[T], patients PatientLookup, patientID string, limit, offset int) ([]*T, int, error) {
	if _, err := patients.Get(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return repo.ListByPatient(ctx, patientID, limit, offset)
}

// -- Diagnosis --

func (s *Service) CreateDiagnosis(ctx context.Context, patientID string, req *DiagnosisRequest) (*Diagnosis, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	d := &Diagnosis{
		PatientID:            patientID,
		PrimaryDiagnosis:     middleware.SanitizeString(strings.TrimSpace(req.PrimaryDiagnosis)),
		Confidence:           *req.Confidence,
		Details:              middleware.SanitizeString(req.Details),
		AlternativeDiagnoses: nonNil(req.AlternativeDiagnoses),
		Source:               ai.SourceClinician,
		CreatedBy:            auth.ActorFromContext(ctx),
	}
	if err := s.diagnoses.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GenerateDiagnosis(ctx context.Context, patientID string) (*Diagnosis, error) {
	pc, err := s.patientContext(ctx, patientID)
	if err != nil {
		return nil, err
	}
	res, err := s.provider.Diagnose(ctx, pc)
	if err != nil {
		return nil, s.providerError("diagnosis", err)
	}
	d := &Diagnosis{
		PatientID:            patientID,
		PrimaryDiagnosis:     res.PrimaryDiagnosis,
		Confidence:           res.Confidence,
		Details:              res.Details,
		AlternativeDiagnoses: nonNil(res.AlternativeDiagnoses),
		Source:               ai.Source(s.provider),
		Simulated:            s.provider.Simulated(),
		CreatedBy:            auth.ActorFromContext(ctx),
	}
	if err := s.diagnoses.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logGenerated("diagnosis", patientID, d.ID)
	return d, nil
}

func (s *Service) ListDiagnoses(ctx context.Context, patientID string, limit, offset int) ([]*Diagnosis, int, error) {
	return list(ctx, s.diagnoses, s.patients, patientID, limit, offset)
}

func (s *Service) CurrentDiagnosis(ctx context.Context, patientID string) (*Diagnosis, error) {
	return latest(ctx, s.diagnoses, s.patients, patientID, "diagnosis")
}

// -- Prognosis --

func (s *Service) CreatePrognosis(ctx context.Context, patientID string, req *PrognosisRequest) (*Prognosis, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	p := &Prognosis{
		PatientID:          patientID,
		Survival1Year:      *req.Survival1Year,
		Survival3Year:      *req.Survival3Year,
		Survival5Year:      *req.Survival5Year,
		TreatmentScenarios: nonNil(req.TreatmentScenarios),
		Source:             ai.SourceClinician,
		CreatedBy:          auth.ActorFromContext(ctx),
	}
	if err := s.prognoses.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GeneratePrognosis(ctx context.Context, patientID string) (*Prognosis, error) {
	pc, err := s.patientContext(ctx, patientID)
	if err != nil {
		return nil, err
	}
	res, err := s.provider.Prognose(ctx, pc)
	if err != nil {
		return nil, s.providerError("prognosis", err)
	}
	p := &Prognosis{
		PatientID:          patientID,
		Survival1Year:      res.Survival1Year,
		Survival3Year:      res.Survival3Year,
		Survival5Year:      res.Survival5Year,
		TreatmentScenarios: nonNil(res.TreatmentScenarios),
		Source:             ai.Source(s.provider),
		Simulated:          s.provider.Simulated(),
		CreatedBy:          auth.ActorFromContext(ctx),
	}
	if err := s.prognoses.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logGenerated("prognosis", patientID, p.ID)
	return p, nil
}

func (s *Service) ListPrognoses(ctx context.Context, patientID string, limit, offset int) ([]*Prognosis, int, error) {
	return list(ctx, s.prognoses, s.patients, patientID, limit, offset)
}

func (s *Service) CurrentPrognosis(ctx context.Context, patientID string) (*Prognosis, error) {
	return latest(ctx, s.prognoses, s.patients, patientID, "prognosis")
}

// -- Radiation Plan --

func (s *Service) CreateRadiationPlan(ctx context.Context, patientID string, req *RadiationPlanRequest) (*RadiationPlan, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	organs := make([]string, 0, len(req.OrgansAtRisk))
	for _, o := range req.OrgansAtRisk {
		organs = append(organs, middleware.SanitizeString(strings.TrimSpace(o)))
	}
	r := &RadiationPlan{
		PatientID:           patientID,
		BeamAngles:          req.BeamAngles,
		TotalDose:           req.TotalDose,
		Fractions:           req.Fractions,
		TumorCoverage:       *req.TumorCoverage,
		HealthyTissueSpared: *req.HealthyTissueSpared,
		OrgansAtRisk:        organs,
		OptimizationMethod:  strings.TrimSpace(req.OptimizationMethod),
		Source:              ai.SourceClinician,
		CreatedBy:           auth.ActorFromContext(ctx),
	}
	if err := s.plans.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) GenerateRadiationPlan(ctx context.Context, patientID string) (*RadiationPlan, error) {
	pc, err := s.patientContext(ctx, patientID)
	if err != nil {
		return nil, err
	}
	res, err := s.provider.PlanRadiation(ctx, pc)
	if err != nil {
		return nil, s.providerError("radiation plan", err)
	}
	r := &RadiationPlan{
		PatientID:           patientID,
		BeamAngles:          res.BeamAngles,
		TotalDose:           res.TotalDose,
		Fractions:           res.Fractions,
		TumorCoverage:       res.TumorCoverage,
		HealthyTissueSpared: res.HealthyTissueSpared,
		OrgansAtRisk:        nonNil(res.OrgansAtRisk),
		OptimizationMethod:  res.OptimizationMethod,
		Source:              ai.Source(s.provider),
		Simulated:           s.provider.Simulated(),
		CreatedBy:           auth.ActorFromContext(ctx),
	}
	if err := s.plans.Create(ctx, r); err != nil {
		return nil, err
	}
	s.logGenerated("radiation_plan", patientID, r.ID)
	return r, nil
}

func (s *Service) ListRadiationPlans(ctx context.Context, patientID string, limit, offset int) ([]*RadiationPlan, int, error) {
	return list(ctx, s.plans, s.patients, patientID, limit, offset)
}

func (s *Service) CurrentRadiationPlan(ctx context.Context, patientID string) (*RadiationPlan, error) {
	return latest(ctx, s.plans, s.patients, patientID, "radiation plan")
}

// -- Biomarker --

// RecordBiomarker stores a reading. A missing trend is derived from the
// previous reading of the same type, and a reading outside its normal range
// raises an alert.
func (s *Service) RecordBiomarker(ctx context.Context, patientID string, req *BiomarkerRequest) (*Biomarker, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	if req.NormalRangeMin != nil && req.NormalRangeMax != nil && *req.NormalRangeMin > *req.NormalRangeMax {
		return nil, apperr.Validation(apperr.FieldError{Field: "normalRangeMax", Message: "must not be below normalRangeMin"})
	}
	b := &Biomarker{
		PatientID:      patientID,
		Type:           strings.TrimSpace(req.Type),
		Value:          *req.Value,
		Unit:           strings.TrimSpace(req.Unit),
		NormalRangeMin: req.NormalRangeMin,
		NormalRangeMax: req.NormalRangeMax,
		Trend:          req.Trend,
	}
	if req.MeasuredAt != nil {
		b.MeasuredAt = req.MeasuredAt.UTC()
	}
	if b.Trend == "" {
		prev, err := s.biomarkers.Latest(ctx, patientID, b.Type)
		switch {
		case errors.Is(err, ErrNotFound):
			b.Trend = TrendStable
		case err != nil:
			return nil, err
		default:
			b.Trend = deriveTrend(prev.Value, b.Value)
		}
	}
	if err := s.biomarkers.Create(ctx, b); err != nil {
		return nil, err
	}

	if level, ok := rangeAlert(b); ok {
		msg := fmt.Sprintf("%s out of normal range: %s", b.Type, formatReading(b.Value, b.Unit))
		details := fmt.Sprintf("normal range %s, measured %s", formatRange(b), b.MeasuredAt.Format(time.RFC3339))
		if _, err := s.alerts.Raise(ctx, patientID, level, msg, details); err != nil {
			// The reading is already stored.
			s.logger.Error().Err(err).Int64("biomarker_id", b.ID).Msg("failed to raise biomarker alert")
		}
	}
	return b, nil
}

func (s *Service) ListBiomarkers(ctx context.Context, patientID string, f BiomarkerFilter) ([]*Biomarker, int, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.biomarkers.ListByPatient(ctx, patientID, f)
}

func deriveTrend(prev, cur float64) string {
	if prev == 0 {
		switch {
		case cur > 0:
			return TrendUp
		case cur < 0:
			return TrendDown
		}
		return TrendStable
	}
	change := (cur - prev) / math.Abs(prev)
	switch {
	case change > stableBand:
		return TrendUp
	case change < -stableBand:
		return TrendDown
	}
	return TrendStable
}

// rangeAlert returns the alert level for a reading outside its normal range.
// The reading is critical when it lies beyond the range by more than half the
// range width; with only one bound the bound's magnitude stands in for width.
func rangeAlert(b *Biomarker) (string, bool) {
	var distance float64
	switch {
	case b.NormalRangeMin != nil && b.Value < *b.NormalRangeMin:
		distance = *b.NormalRangeMin - b.Value
	case b.NormalRangeMax != nil && b.Value > *b.NormalRangeMax:
		distance = b.Value - *b.NormalRangeMax
	default:
		return "", false
	}
	var width float64
	switch {
	case b.NormalRangeMin != nil && b.NormalRangeMax != nil:
		width = *b.NormalRangeMax - *b.NormalRangeMin
	case b.NormalRangeMin != nil:
		width = math.Abs(*b.NormalRangeMin)
	default:
		width = math.Abs(*b.NormalRangeMax)
	}
	if width > 0 && distance > width/2 {
		return alert.TypeCritical, true
	}
	return alert.TypeWarning, true
}

func formatReading(v float64, unit string) string {
	s := formatFloat(v)
	if unit != "" {
		s += " " + unit
	}
	return s
}

func formatRange(b *Biomarker) string {
	lo, hi := "-inf", "+inf"
	if b.NormalRangeMin != nil {
		lo = formatFloat(*b.NormalRangeMin)
	}
	if b.NormalRangeMax != nil {
		hi = formatFloat(*b.NormalRangeMax)
	}
	return "[" + lo + ", " + hi + "]"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func nonNil[E any](items []E) []E {
	if items == nil {
		return []E{}
	}
	return items
}
