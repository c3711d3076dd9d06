package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/genai"
)

// TextGenerator sends a prompt to a generative model and returns its text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator is a TextGenerator backed by the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a client for the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	temp := float32(0.2)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GenAIProvider asks a generative text model for predictions. The model is
// instructed to reply with JSON; replies are cleaned with ExtractJSON and
// checked against the declared ranges.
type GenAIProvider struct {
	gen      TextGenerator
	validate *validator.Validate
}

func NewGenAIProvider(gen TextGenerator) *GenAIProvider {
	v := validator.New()
	_ = v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		x := fl.Field().Float()
		return x >= 0 && x <= 1
	})
	return &GenAIProvider{gen: gen, validate: v}
}

func (p *GenAIProvider) Name() string    { return "genai" }
func (p *GenAIProvider) Simulated() bool { return false }

const diagnosisShape = `{"primaryDiagnosis": string, "confidence": number 0-1, "details": string, "alternativeDiagnoses": [{"name": string, "probability": number 0-1}]}`

const prognosisShape = `{"survival1Year": number 0-1, "survival3Year": number 0-1, "survival5Year": number 0-1, "treatmentScenarios": [{"name": string, "description": string, "survivalRate": number 0-1, "timeframe": string}]}`

const radiationShape = `{"beamAngles": integer >= 1, "totalDose": number Gy > 0, "fractions": integer >= 1, "tumorCoverage": number 0-1, "healthyTissueSpared": number 0-1, "organsAtRisk": [string], "optimizationMethod": string}`

type diagnosisReply struct {
	PrimaryDiagnosis     string                 `json:"primaryDiagnosis" validate:"required"`
	Confidence           float64                `json:"confidence" validate:"unit"`
	Details              string                 `json:"details"`
	AlternativeDiagnoses []AlternativeDiagnosis `json:"alternativeDiagnoses" validate:"dive"`
}

type prognosisReply struct {
	Survival1Year      float64             `json:"survival1Year" validate:"unit"`
	Survival3Year      float64             `json:"survival3Year" validate:"unit"`
	Survival5Year      float64             `json:"survival5Year" validate:"unit"`
	TreatmentScenarios []TreatmentScenario `json:"treatmentScenarios" validate:"dive"`
}

type radiationReply struct {
	BeamAngles          int      `json:"beamAngles" validate:"gte=1"`
	TotalDose           float64  `json:"totalDose" validate:"gt=0"`
	Fractions           int      `json:"fractions" validate:"gte=1"`
	TumorCoverage       float64  `json:"tumorCoverage" validate:"unit"`
	HealthyTissueSpared float64  `json:"healthyTissueSpared" validate:"unit"`
	OrgansAtRisk        []string `json:"organsAtRisk"`
	OptimizationMethod  string   `json:"optimizationMethod"`
}

func (p *GenAIProvider) Diagnose(ctx context.Context, pc PatientContext) (*DiagnosisResult, error) {
	var r diagnosisReply
	if err := p.ask(ctx, "diagnosis", "Suggest a primary oncology diagnosis with alternatives", diagnosisShape, pc, &r); err != nil {
		return nil, err
	}
	return &DiagnosisResult{
		PrimaryDiagnosis:     r.PrimaryDiagnosis,
		Confidence:           r.Confidence,
		Details:              r.Details,
		AlternativeDiagnoses: nonNil(r.AlternativeDiagnoses),
	}, nil
}

func (p *GenAIProvider) Prognose(ctx context.Context, pc PatientContext) (*PrognosisResult, error) {
	var r prognosisReply
	if err := p.ask(ctx, "prognosis", "Estimate survival probabilities and compare treatment scenarios", prognosisShape, pc, &r); err != nil {
		return nil, err
	}
	return &PrognosisResult{
		Survival1Year:      r.Survival1Year,
		Survival3Year:      r.Survival3Year,
		Survival5Year:      r.Survival5Year,
		TreatmentScenarios: nonNil(r.TreatmentScenarios),
	}, nil
}

func (p *GenAIProvider) PlanRadiation(ctx context.Context, pc PatientContext) (*RadiationResult, error) {
	var r radiationReply
	if err := p.ask(ctx, "radiation plan", "Propose an external beam radiation plan", radiationShape, pc, &r); err != nil {
		return nil, err
	}
	return &RadiationResult{
		BeamAngles:          r.BeamAngles,
		TotalDose:           r.TotalDose,
		Fractions:           r.Fractions,
		TumorCoverage:       r.TumorCoverage,
		HealthyTissueSpared: r.HealthyTissueSpared,
		OrgansAtRisk:        nonNil(r.OrgansAtRisk),
		OptimizationMethod:  r.OptimizationMethod,
	}, nil
}

func (p *GenAIProvider) ask(ctx context.Context, kind, task, shape string, pc PatientContext, out any) error {
	prompt, err := buildPrompt(task, shape, pc)
	if err != nil {
		return err
	}
	text, err := p.gen.GenerateText(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UpstreamError{Provider: p.Name(), Err: err}
	}

	raw := ExtractJSON(text)
	if raw == "" {
		return &FormatError{Kind: kind, Raw: truncate(text, 200), Err: fmt.Errorf("no JSON object in reply")}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &FormatError{Kind: kind, Raw: truncate(raw, 200), Err: err}
	}
	if err := p.validate.Struct(out); err != nil {
		return &FormatError{Kind: kind, Raw: truncate(raw, 200), Err: err}
	}
	return nil
}

func buildPrompt(task, shape string, pc PatientContext) (string, error) {
	patient, err := json.Marshal(pc)
	if err != nil {
		return "", fmt.Errorf("encode patient context: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("You are assisting an oncology dashboard. ")
	sb.WriteString(task)
	sb.WriteString(" for the patient below.\n\nPatient:\n")
	sb.Write(patient)
	sb.WriteString("\n\nReply with a single JSON object and nothing else, shaped as:\n")
	sb.WriteString(shape)
	sb.WriteString("\n")
	return sb.String(), nil
}

// ExtractJSON returns the last balanced, valid JSON object in text after
// removing markdown code fences. It returns "" when none is found.
func ExtractJSON(text string) string {
	text = stripCodeFences(strings.TrimSpace(text))
	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return text
	}

	end := strings.LastIndex(text, "}")
	for end >= 0 {
		depth := 0
		inString := false
		for i := end; i >= 0; i-- {
			ch := text[i]
			if ch == '"' && !escaped(text, i) {
				inString = !inString
			}
			if inString {
				continue
			}
			switch ch {
			case '}':
				depth++
			case '{':
				depth--
			}
			if depth == 0 {
				candidate := text[i : end+1]
				if json.Valid([]byte(candidate)) {
					return candidate
				}
				break
			}
		}
		end = strings.LastIndex(text[:end], "}")
	}
	return ""
}

func escaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
