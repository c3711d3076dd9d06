package ai

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/quantnex/quantnex/internal/platform/jobs"
)

type cancerProfile struct {
	key          string
	label        string
	subtypes     []string
	organs       []string
	baseSurvival float64
}

// taxonomy is the fixed set of cancer categories the simulated model knows.
var taxonomy = []cancerProfile{
	{"breastCancer", "Breast cancer", []string{"Invasive ductal carcinoma", "Invasive lobular carcinoma", "Ductal carcinoma in situ"}, []string{"Heart", "Left lung", "Contralateral breast"}, 0.90},
	{"lungCancer", "Lung cancer", []string{"Non-small cell lung carcinoma", "Small cell lung carcinoma", "Pulmonary adenocarcinoma"}, []string{"Spinal cord", "Heart", "Esophagus"}, 0.45},
	{"prostateCancer", "Prostate cancer", []string{"Prostatic adenocarcinoma", "Small cell prostate carcinoma"}, []string{"Rectum", "Bladder", "Femoral heads"}, 0.95},
	{"colorectalCancer", "Colorectal cancer", []string{"Colorectal adenocarcinoma", "Mucinous adenocarcinoma"}, []string{"Small bowel", "Bladder", "Femoral heads"}, 0.70},
	{"melanoma", "Melanoma", []string{"Superficial spreading melanoma", "Nodular melanoma", "Acral lentiginous melanoma"}, []string{"Skin", "Lymph nodes"}, 0.85},
	{"leukemia", "Leukemia", []string{"Acute myeloid leukemia", "Chronic lymphocytic leukemia", "Acute lymphoblastic leukemia"}, []string{"Bone marrow", "Spleen"}, 0.60},
	{"lymphoma", "Lymphoma", []string{"Diffuse large B-cell lymphoma", "Hodgkin lymphoma", "Follicular lymphoma"}, []string{"Thyroid", "Salivary glands", "Heart"}, 0.72},
	{"pancreaticCancer", "Pancreatic cancer", []string{"Pancreatic ductal adenocarcinoma", "Pancreatic neuroendocrine tumor"}, []string{"Duodenum", "Kidneys", "Liver"}, 0.25},
	{"brainTumor", "Brain tumor", []string{"Glioblastoma", "Low-grade astrocytoma", "Meningioma"}, []string{"Brainstem", "Optic chiasm", "Cochlea"}, 0.40},
}

// stageAdjust shifts survival by the leading stage numeral.
var stageAdjust = map[string]float64{
	"0":   0.20,
	"I":   0.15,
	"II":  0.05,
	"III": -0.10,
	"IV":  -0.25,
}

var treatmentOptions = []struct {
	name, description string
	offset            float64
}{
	{"Surgery with adjuvant chemotherapy", "Resection followed by six cycles of systemic therapy", 0.10},
	{"Definitive radiation therapy", "Fractionated external beam radiation to the primary site", 0.05},
	{"Immunotherapy", "Checkpoint inhibitor maintenance", 0.08},
	{"Targeted therapy", "Molecularly targeted agent guided by biomarker profile", 0.06},
	{"Palliative care", "Symptom management and quality-of-life focus", -0.15},
}

// SimulatedProvider returns random results drawn from the cancer taxonomy.
// Results carry no clinical meaning.
type SimulatedProvider struct {
	mu       sync.Mutex
	rng      *rand.Rand
	delayMax time.Duration
}

// NewSimulatedProvider creates a simulated provider. A nil rng uses a
// time-seeded source. Each call sleeps a random duration up to delayMax to
// mimic model latency; zero disables the delay.
func NewSimulatedProvider(rng *rand.Rand, delayMax time.Duration) *SimulatedProvider {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SimulatedProvider{rng: rng, delayMax: delayMax}
}

func (p *SimulatedProvider) Name() string    { return "simulated" }
func (p *SimulatedProvider) Simulated() bool { return true }

func (p *SimulatedProvider) Diagnose(ctx context.Context, pc PatientContext) (*DiagnosisResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prof := p.profileFor(pc.CancerType)
	primary := prof.subtypes[p.rng.Intn(len(prof.subtypes))]
	confidence := round2(0.70 + p.rng.Float64()*0.28)

	var candidates []string
	for _, s := range prof.subtypes {
		if s != primary {
			candidates = append(candidates, s)
		}
	}
	other := taxonomy[p.rng.Intn(len(taxonomy))]
	if other.key != prof.key {
		candidates = append(candidates, other.label)
	}

	remaining := 1 - confidence
	alts := make([]AlternativeDiagnosis, 0, len(candidates))
	for _, name := range candidates {
		prob := round2(remaining * (0.3 + p.rng.Float64()*0.4))
		if prob <= 0 {
			break
		}
		alts = append(alts, AlternativeDiagnosis{Name: name, Probability: prob})
		remaining -= prob
	}

	details := fmt.Sprintf("%s pattern consistent with %s", prof.label, strings.ToLower(primary))
	if pc.LatestScan != nil && pc.LatestScan.TumorDetected {
		details += fmt.Sprintf("; lesion visible on latest %s", pc.LatestScan.ScanType)
	}
	return &DiagnosisResult{
		PrimaryDiagnosis:     primary,
		Confidence:           confidence,
		Details:              details,
		AlternativeDiagnoses: alts,
	}, nil
}

func (p *SimulatedProvider) Prognose(ctx context.Context, pc PatientContext) (*PrognosisResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prof := p.profileFor(pc.CancerType)
	base := prof.baseSurvival + stageAdjust[stageNumeral(pc.Stage)] + (p.rng.Float64()-0.5)*0.1
	s1 := clamp(base, 0.05, 0.99)
	s3 := clamp(s1*(0.75+p.rng.Float64()*0.15), 0.02, s1)
	s5 := clamp(s3*(0.75+p.rng.Float64()*0.15), 0.01, s3)

	n := 2 + p.rng.Intn(2)
	order := p.rng.Perm(len(treatmentOptions))[:n]
	scenarios := make([]TreatmentScenario, 0, n)
	for _, i := range order {
		opt := treatmentOptions[i]
		scenarios = append(scenarios, TreatmentScenario{
			Name:         opt.name,
			Description:  opt.description,
			SurvivalRate: round2(clamp(s5+opt.offset, 0.01, 0.99)),
			Timeframe:    "5 years",
		})
	}
	return &PrognosisResult{
		Survival1Year:      round2(s1),
		Survival3Year:      round2(s3),
		Survival5Year:      round2(s5),
		TreatmentScenarios: scenarios,
	}, nil
}

func (p *SimulatedProvider) PlanRadiation(ctx context.Context, pc PatientContext) (*RadiationResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prof := p.profileFor(pc.CancerType)
	fractions := 20 + p.rng.Intn(16)
	perFraction := 1.8 + p.rng.Float64()*0.4
	return &RadiationResult{
		BeamAngles:          5 + p.rng.Intn(5),
		TotalDose:           math.Round(float64(fractions)*perFraction*10) / 10,
		Fractions:           fractions,
		TumorCoverage:       round2(0.90 + p.rng.Float64()*0.09),
		HealthyTissueSpared: round2(0.70 + p.rng.Float64()*0.25),
		OrgansAtRisk:        append([]string(nil), prof.organs...),
		OptimizationMethod:  "Simulated quantum annealing",
	}, nil
}

// profileFor matches a free-text cancer type against the taxonomy. Unknown
// types get a random profile. Callers hold p.mu.
func (p *SimulatedProvider) profileFor(cancerType string) cancerProfile {
	norm := strings.ToLower(strings.ReplaceAll(cancerType, " ", ""))
	for _, prof := range taxonomy {
		key := strings.ToLower(prof.key)
		stem := strings.TrimSuffix(strings.TrimSuffix(key, "cancer"), "tumor")
		if norm == key || (stem != "" && strings.Contains(norm, stem)) {
			return prof
		}
	}
	return taxonomy[p.rng.Intn(len(taxonomy))]
}

func (p *SimulatedProvider) wait(ctx context.Context) error {
	if p.delayMax <= 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	d := time.Duration(p.rng.Int63n(int64(p.delayMax)))
	p.mu.Unlock()
	return jobs.Sleep(ctx, d)
}

// stageNumeral extracts the roman numeral from values like "Stage IIIA".
func stageNumeral(stage string) string {
	s := strings.ToUpper(strings.TrimSpace(stage))
	s = strings.TrimPrefix(s, "STAGE")
	s = strings.TrimSpace(s)
	for _, n := range []string{"IV", "III", "II", "I", "0"} {
		if strings.HasPrefix(s, n) {
			return n
		}
	}
	return ""
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
