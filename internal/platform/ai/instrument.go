package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/metrics"
)

// Options selects and configures a provider.
type Options struct {
	// Backend is "genai" or "simulated".
	Backend           string
	GeminiAPIKey      string
	GeminiModel       string
	SimulatedDelayMax time.Duration
}

// New builds the configured provider wrapped with metrics and logging.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (PredictionProvider, error) {
	var p PredictionProvider
	switch opts.Backend {
	case "genai":
		gen, err := NewGeminiGenerator(ctx, opts.GeminiAPIKey, opts.GeminiModel)
		if err != nil {
			return nil, err
		}
		p = NewGenAIProvider(gen)
	case "simulated", "":
		p = NewSimulatedProvider(nil, opts.SimulatedDelayMax)
	default:
		return nil, fmt.Errorf("unknown prediction provider %q", opts.Backend)
	}
	return Instrument(p, logger), nil
}

// Instrument records latency and outcome of every call made through p.
func Instrument(p PredictionProvider, logger zerolog.Logger) PredictionProvider {
	return &instrumented{next: p, logger: logger.With().Str("provider", p.Name()).Logger()}
}

type instrumented struct {
	next   PredictionProvider
	logger zerolog.Logger
}

func (i *instrumented) Name() string    { return i.next.Name() }
func (i *instrumented) Simulated() bool { return i.next.Simulated() }

func (i *instrumented) Diagnose(ctx context.Context, pc PatientContext) (*DiagnosisResult, error) {
	start := time.Now()
	r, err := i.next.Diagnose(ctx, pc)
	i.observe("diagnosis", pc.PatientID, start, err)
	return r, err
}

func (i *instrumented) Prognose(ctx context.Context, pc PatientContext) (*PrognosisResult, error) {
	start := time.Now()
	r, err := i.next.Prognose(ctx, pc)
	i.observe("prognosis", pc.PatientID, start, err)
	return r, err
}

func (i *instrumented) PlanRadiation(ctx context.Context, pc PatientContext) (*RadiationResult, error) {
	start := time.Now()
	r, err := i.next.PlanRadiation(ctx, pc)
	i.observe("radiation_plan", pc.PatientID, start, err)
	return r, err
}

func (i *instrumented) observe(kind, patientID string, start time.Time, err error) {
	d := time.Since(start)
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrUpstreamFormat):
		outcome = "format_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	metrics.RecordPrediction(kind, i.next.Name(), outcome, d)

	ev := i.logger.Debug()
	if err != nil {
		ev = i.logger.Warn().Err(err)
		var fe *FormatError
		if errors.As(err, &fe) {
			ev = ev.Str("raw", fe.Raw)
		}
	}
	ev.Str("kind", kind).
		Str("patient_id", patientID).
		Str("outcome", outcome).
		Dur("duration", d).
		Msg("prediction")
}
