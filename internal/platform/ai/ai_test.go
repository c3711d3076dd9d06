package ai

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSim(seed int64) *SimulatedProvider {
	return NewSimulatedProvider(rand.New(rand.NewSource(seed)), 0)
}

func TestSimulated_DiagnoseRanges(t *testing.T) {
	p := newSim(1)
	for i := 0; i < 50; i++ {
		r, err := p.Diagnose(context.Background(), PatientContext{CancerType: "Lung Cancer"})
		require.NoError(t, err)
		assert.NotEmpty(t, r.PrimaryDiagnosis)
		assert.GreaterOrEqual(t, r.Confidence, 0.70)
		assert.LessOrEqual(t, r.Confidence, 0.98)
		sum := r.Confidence
		for _, a := range r.AlternativeDiagnoses {
			assert.Greater(t, a.Probability, 0.0)
			assert.Less(t, a.Probability, r.Confidence)
			assert.NotEqual(t, r.PrimaryDiagnosis, a.Name)
			sum += a.Probability
		}
		assert.LessOrEqual(t, sum, 1.02)
	}
}

func TestSimulated_MatchesTaxonomy(t *testing.T) {
	p := newSim(2)
	r, err := p.Diagnose(context.Background(), PatientContext{CancerType: "breast cancer"})
	require.NoError(t, err)
	assert.Contains(t, taxonomy[0].subtypes, r.PrimaryDiagnosis)

	plan, err := p.PlanRadiation(context.Background(), PatientContext{CancerType: "Glioblastoma brain"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Brainstem", "Optic chiasm", "Cochlea"}, plan.OrgansAtRisk)
}

func TestSimulated_Deterministic(t *testing.T) {
	a, err := newSim(42).Prognose(context.Background(), PatientContext{CancerType: "melanoma", Stage: "II"})
	require.NoError(t, err)
	b, err := newSim(42).Prognose(context.Background(), PatientContext{CancerType: "melanoma", Stage: "II"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSimulated_PrognosisMonotonic(t *testing.T) {
	p := newSim(3)
	for _, stage := range []string{"I", "Stage IIB", "III", "IV", ""} {
		r, err := p.Prognose(context.Background(), PatientContext{CancerType: "pancreaticCancer", Stage: stage})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Survival1Year, r.Survival3Year, stage)
		assert.GreaterOrEqual(t, r.Survival3Year, r.Survival5Year, stage)
		assert.Greater(t, r.Survival5Year, 0.0)
		assert.LessOrEqual(t, r.Survival1Year, 0.99)
		require.NotEmpty(t, r.TreatmentScenarios)
		for _, s := range r.TreatmentScenarios {
			assert.GreaterOrEqual(t, s.SurvivalRate, 0.01)
			assert.LessOrEqual(t, s.SurvivalRate, 0.99)
		}
	}
}

func TestSimulated_RadiationRanges(t *testing.T) {
	p := newSim(4)
	for i := 0; i < 20; i++ {
		r, err := p.PlanRadiation(context.Background(), PatientContext{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.BeamAngles, 5)
		assert.GreaterOrEqual(t, r.Fractions, 20)
		assert.Greater(t, r.TotalDose, 0.0)
		assert.GreaterOrEqual(t, r.TumorCoverage, 0.90)
		assert.LessOrEqual(t, r.HealthyTissueSpared, 0.95)
		assert.NotEmpty(t, r.OrgansAtRisk)
	}
}

func TestSimulated_DelayHonoursCancellation(t *testing.T) {
	p := NewSimulatedProvider(rand.New(rand.NewSource(5)), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Diagnose(ctx, PatientContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStageNumeral(t *testing.T) {
	cases := map[string]string{
		"IV":         "IV",
		"Stage IIIA": "III",
		"iib":        "II",
		"I":          "I",
		"0":          "0",
		"unknown":    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, stageNumeral(in), in)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here you go: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"last object wins", `{"a":1} and then {"a":2}`, `{"a":2}`},
		{"brace in string", `result {"msg":"use } carefully"}`, `{"msg":"use } carefully"}`},
		{"none", `no json here`, ""},
		{"broken", `{"a": }`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

type stubGenerator struct {
	reply  string
	err    error
	prompt string
}

func (s *stubGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func TestGenAI_Diagnose(t *testing.T) {
	gen := &stubGenerator{reply: "```json\n{\"primaryDiagnosis\":\"Glioblastoma\",\"confidence\":0.81,\"details\":\"d\",\"alternativeDiagnoses\":[{\"name\":\"Meningioma\",\"probability\":0.1}]}\n```"}
	p := NewGenAIProvider(gen)

	r, err := p.Diagnose(context.Background(), PatientContext{PatientID: "P-1", CancerType: "brainTumor"})
	require.NoError(t, err)
	assert.Equal(t, "Glioblastoma", r.PrimaryDiagnosis)
	assert.InDelta(t, 0.81, r.Confidence, 1e-9)
	require.Len(t, r.AlternativeDiagnoses, 1)
	assert.Contains(t, gen.prompt, `"patientId":"P-1"`)
	assert.False(t, p.Simulated())
	assert.Equal(t, SourceModel, Source(p))
}

func TestGenAI_FormatError(t *testing.T) {
	p := NewGenAIProvider(&stubGenerator{reply: "I cannot help with that."})
	_, err := p.Prognose(context.Background(), PatientContext{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFormat)
	assert.True(t, IsUpstream(err))

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "prognosis", fe.Kind)
}

func TestGenAI_OutOfRangeIsFormatError(t *testing.T) {
	p := NewGenAIProvider(&stubGenerator{reply: `{"beamAngles":0,"totalDose":60,"fractions":30,"tumorCoverage":1.4,"healthyTissueSpared":0.8}`})
	_, err := p.PlanRadiation(context.Background(), PatientContext{})
	assert.ErrorIs(t, err, ErrUpstreamFormat)
}

func TestGenAI_UpstreamError(t *testing.T) {
	p := NewGenAIProvider(&stubGenerator{err: errors.New("503 from api")})
	_, err := p.Diagnose(context.Background(), PatientContext{})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "genai", ue.Provider)
	assert.True(t, IsUpstream(err))
	assert.False(t, errors.Is(err, ErrUpstreamFormat))
}

func TestGenAI_EmptyListsAreNotNil(t *testing.T) {
	p := NewGenAIProvider(&stubGenerator{reply: `{"survival1Year":0.9,"survival3Year":0.7,"survival5Year":0.5}`})
	r, err := p.Prognose(context.Background(), PatientContext{})
	require.NoError(t, err)
	assert.NotNil(t, r.TreatmentScenarios)
}

func TestInstrument_PassesThrough(t *testing.T) {
	p := Instrument(newSim(9), zerolog.Nop())
	assert.Equal(t, "simulated", p.Name())
	assert.True(t, p.Simulated())
	assert.Equal(t, SourceSimulated, Source(p))
	_, err := p.Diagnose(context.Background(), PatientContext{})
	assert.NoError(t, err)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "oracle"}, zerolog.Nop())
	assert.Error(t, err)
}
