// Package ai holds the prediction providers behind the diagnosis, prognosis
// and radiation-plan generation endpoints. Two providers exist: a simulated
// one that draws from a fixed cancer taxonomy and one that asks a generative
// text model for JSON. Neither output has clinical meaning.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// Source values persisted on generated records.
const (
	SourceClinician = "clinician"
	SourceModel     = "model"
	SourceSimulated = "simulated"
)

// ErrUpstreamFormat marks a model response that could not be decoded into
// the expected shape.
var ErrUpstreamFormat = errors.New("upstream response has unexpected format")

// PatientContext is the clinical summary handed to a provider.
type PatientContext struct {
	PatientID  string         `json:"patientId"`
	Age        int            `json:"age"`
	Gender     string         `json:"gender"`
	CancerType string         `json:"cancerType"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status"`
	LatestScan *ScanSummary   `json:"latestScan,omitempty"`
	Biomarkers []BiomarkerRef `json:"biomarkers,omitempty"`
}

type ScanSummary struct {
	ScanType        string   `json:"scanType"`
	TumorDetected   bool     `json:"tumorDetected"`
	TumorSize       *float64 `json:"tumorSize,omitempty"`
	TumorLocation   *string  `json:"tumorLocation,omitempty"`
	MalignancyScore *float64 `json:"malignancyScore,omitempty"`
}

type BiomarkerRef struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Trend string  `json:"trend"`
}

type AlternativeDiagnosis struct {
	Name        string  `json:"name" validate:"required"`
	Probability float64 `json:"probability" validate:"unit"`
}

type DiagnosisResult struct {
	PrimaryDiagnosis     string                 `json:"primaryDiagnosis"`
	Confidence           float64                `json:"confidence"`
	Details              string                 `json:"details"`
	AlternativeDiagnoses []AlternativeDiagnosis `json:"alternativeDiagnoses"`
}

type TreatmentScenario struct {
	Name         string  `json:"name" validate:"required"`
	Description  string  `json:"description"`
	SurvivalRate float64 `json:"survivalRate" validate:"unit"`
	Timeframe    string  `json:"timeframe"`
}

type PrognosisResult struct {
	Survival1Year      float64             `json:"survival1Year"`
	Survival3Year      float64             `json:"survival3Year"`
	Survival5Year      float64             `json:"survival5Year"`
	TreatmentScenarios []TreatmentScenario `json:"treatmentScenarios"`
}

type RadiationResult struct {
	BeamAngles          int      `json:"beamAngles"`
	TotalDose           float64  `json:"totalDose"`
	Fractions           int      `json:"fractions"`
	TumorCoverage       float64  `json:"tumorCoverage"`
	HealthyTissueSpared float64  `json:"healthyTissueSpared"`
	OrgansAtRisk        []string `json:"organsAtRisk"`
	OptimizationMethod  string   `json:"optimizationMethod"`
}

// PredictionProvider produces generated clinical content for a patient.
type PredictionProvider interface {
	Diagnose(ctx context.Context, pc PatientContext) (*DiagnosisResult, error)
	Prognose(ctx context.Context, pc PatientContext) (*PrognosisResult, error)
	PlanRadiation(ctx context.Context, pc PatientContext) (*RadiationResult, error)
	Name() string
	// Simulated reports whether results are random placeholders.
	Simulated() bool
}

// Source returns the record source to persist for results of p.
func Source(p PredictionProvider) string {
	if p.Simulated() {
		return SourceSimulated
	}
	return SourceModel
}

// FormatError reports a model reply that did not decode into the expected
// result. Raw holds a truncated copy of the reply for logging.
type FormatError struct {
	Kind string
	Raw  string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s response: %v", e.Kind, e.Err)
}

func (e *FormatError) Unwrap() []error {
	return []error{ErrUpstreamFormat, e.Err}
}

// UpstreamError reports a transport or API failure talking to the model.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err came from the external collaborator rather
// than from the caller.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.Is(err, ErrUpstreamFormat) || errors.As(err, &ue)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
