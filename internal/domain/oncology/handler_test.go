package oncology

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/domain/alert"
	"github.com/quantnex/quantnex/internal/domain/imaging"
	"github.com/quantnex/quantnex/internal/domain/patient"
	"github.com/quantnex/quantnex/internal/platform/ai"
	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/blobstore"
	"github.com/quantnex/quantnex/internal/platform/validation"
)

type failingProvider struct{ err error }

func (p failingProvider) Diagnose(context.Context, ai.PatientContext) (*ai.DiagnosisResult, error) {
	return nil, p.err
}

func (p failingProvider) Prognose(context.Context, ai.PatientContext) (*ai.PrognosisResult, error) {
	return nil, p.err
}

func (p failingProvider) PlanRadiation(context.Context, ai.PatientContext) (*ai.RadiationResult, error) {
	return nil, p.err
}

func (failingProvider) Name() string    { return "failing" }
func (failingProvider) Simulated() bool { return false }

type fixture struct {
	e        *echo.Echo
	svc      *Service
	patients *patient.Service
	alerts   *alert.Service
	scans    *imaging.Service
}

func withActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := &auth.Principal{UserID: 9, Username: "dr-onc", Role: auth.RoleDoctor, Method: "bearer"}
		c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
		return next(c)
	}
}

func newFixture(t *testing.T, provider ai.PredictionProvider) *fixture {
	t.Helper()
	patients := patient.NewService(patient.NewMemRepo(), zerolog.Nop())
	age := 58
	if _, err := patients.Create(context.Background(), &patient.CreateRequest{
		PatientID: "P-300", Name: "Onc Subject", Age: &age, Gender: "Male", CancerType: "lungCancer", Stage: "III",
	}); err != nil {
		t.Fatal(err)
	}
	scans := imaging.NewService(imaging.NewMemRepo(), blobstore.NewInMemoryBlobStore(0), patients, zerolog.Nop())
	alerts := alert.NewService(alert.NewMemRepo(), patients, zerolog.Nop())
	if provider == nil {
		provider = ai.NewSimulatedProvider(rand.New(rand.NewSource(42)), 0)
	}
	svc := NewService(NewMemRepositories(), patients, scans, alerts, provider, zerolog.Nop())
	patients.OnDelete(svc, alerts, scans)

	e := echo.New()
	e.Validator = validation.New()
	e.HTTPErrorHandler = apperr.Handler(zerolog.Nop())
	NewHandler(svc).RegisterRoutes(e.Group("/api", withActor))
	return &fixture{e: e, svc: svc, patients: patients, alerts: alerts, scans: scans}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) json(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return f.do(req)
}

func (f *fixture) form(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return f.do(req)
}

func fieldsOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Fields []apperr.FieldError `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	out := map[string]string{}
	for _, fe := range body.Fields {
		out[fe.Field] = fe.Message
	}
	return out
}

func TestCreateDiagnosis_JSON(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.json(http.MethodPost, "/api/patients/P-300/diagnoses",
		`{"primaryDiagnosis":"NSCLC","confidence":0.8,"alternativeDiagnoses":[{"name":"SCLC","probability":0.15}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d Diagnosis
	json.Unmarshal(rec.Body.Bytes(), &d)
	if d.Source != ai.SourceClinician || d.Simulated {
		t.Errorf("expected clinician record, got source=%s simulated=%v", d.Source, d.Simulated)
	}
	if d.CreatedBy != "dr-onc" {
		t.Errorf("expected createdBy dr-onc, got %q", d.CreatedBy)
	}
	if len(d.AlternativeDiagnoses) != 1 || d.AlternativeDiagnoses[0].Name != "SCLC" {
		t.Errorf("unexpected alternatives: %+v", d.AlternativeDiagnoses)
	}
}

func TestCreateDiagnosis_ListAsJSONString(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.json(http.MethodPost, "/api/patients/P-300/diagnoses",
		`{"primaryDiagnosis":"NSCLC","confidence":0.8,"alternativeDiagnoses":"[{\"name\":\"SCLC\",\"probability\":0.1}]"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d Diagnosis
	json.Unmarshal(rec.Body.Bytes(), &d)
	if len(d.AlternativeDiagnoses) != 1 {
		t.Errorf("expected decoded alternatives, got %+v", d.AlternativeDiagnoses)
	}
}

func TestCreatePrognosis_Form(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.form("/api/patients/P-300/prognoses", url.Values{
		"survival1Year":      {"0.9"},
		"survival3Year":      {"0.7"},
		"survival5Year":      {"0.5"},
		"treatmentScenarios": {`[{"name":"Chemo","description":"Cisplatin","survivalRate":0.6,"timeframe":"5 years"}]`},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p Prognosis
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Survival3Year != 0.7 || len(p.TreatmentScenarios) != 1 || p.TreatmentScenarios[0].Name != "Chemo" {
		t.Errorf("unexpected prognosis: %+v", p)
	}
}

func TestCreateRadiationPlan_Multipart(t *testing.T) {
	f := newFixture(t, nil)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"beamAngles":          "7",
		"totalDose":           "60",
		"fractions":           "30",
		"tumorCoverage":       "0.95",
		"healthyTissueSpared": "0.8",
		"organsAtRisk":        `["Spinal cord","Heart"]`,
	} {
		w.WriteField(k, v)
	}
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/patients/P-300/radiation-plans", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := f.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var r RadiationPlan
	json.Unmarshal(rec.Body.Bytes(), &r)
	if r.BeamAngles != 7 || len(r.OrgansAtRisk) != 2 {
		t.Errorf("unexpected plan: %+v", r)
	}
}

func TestCreate_DecodeAndValidationErrors(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name  string
		rec   func() *httptest.ResponseRecorder
		field string
	}{
		{"list not an array", func() *httptest.ResponseRecorder {
			return f.json(http.MethodPost, "/api/patients/P-300/diagnoses",
				`{"primaryDiagnosis":"X","confidence":0.5,"alternativeDiagnoses":"not json"}`)
		}, "alternativeDiagnoses"},
		{"form list not an array", func() *httptest.ResponseRecorder {
			return f.form("/api/patients/P-300/radiation-plans", url.Values{
				"beamAngles": {"5"}, "totalDose": {"50"}, "fractions": {"25"},
				"tumorCoverage": {"0.9"}, "healthyTissueSpared": {"0.8"}, "organsAtRisk": {"{"},
			})
		}, "organsAtRisk"},
		{"form number", func() *httptest.ResponseRecorder {
			return f.form("/api/patients/P-300/prognoses", url.Values{
				"survival1Year": {"high"}, "survival3Year": {"0.5"}, "survival5Year": {"0.4"},
			})
		}, "survival1Year"},
		{"confidence out of range", func() *httptest.ResponseRecorder {
			return f.json(http.MethodPost, "/api/patients/P-300/diagnoses", `{"primaryDiagnosis":"X","confidence":1.4}`)
		}, "confidence"},
		{"confidence missing", func() *httptest.ResponseRecorder {
			return f.json(http.MethodPost, "/api/patients/P-300/diagnoses", `{"primaryDiagnosis":"X"}`)
		}, "confidence"},
		{"nested probability", func() *httptest.ResponseRecorder {
			return f.json(http.MethodPost, "/api/patients/P-300/diagnoses",
				`{"primaryDiagnosis":"X","confidence":0.5,"alternativeDiagnoses":[{"name":"Y","probability":2}]}`)
		}, "alternativeDiagnoses[0].probability"},
		{"wrong type", func() *httptest.ResponseRecorder {
			return f.json(http.MethodPost, "/api/patients/P-300/diagnoses", `{"primaryDiagnosis":"X","confidence":"high"}`)
		}, "confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec()
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if _, ok := fieldsOf(t, rec)[tt.field]; !ok {
				t.Errorf("expected field error for %s, got %s", tt.field, rec.Body.String())
			}
		})
	}

	items, total, _ := f.svc.ListDiagnoses(context.Background(), "P-300", 10, 0)
	if total != 0 || len(items) != 0 {
		t.Errorf("rejected requests must not write, found %d diagnoses", total)
	}
}

func TestUnknownPatient(t *testing.T) {
	f := newFixture(t, nil)
	paths := []string{
		"/api/patients/P-404/diagnoses",
		"/api/patients/P-404/diagnoses/current",
		"/api/patients/P-404/prognoses",
		"/api/patients/P-404/radiation-plans",
		"/api/patients/P-404/biomarkers",
	}
	for _, p := range paths {
		if rec := f.json(http.MethodGet, p, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", p, rec.Code)
		}
	}
	if rec := f.json(http.MethodPost, "/api/patients/P-404/diagnoses/generate", ""); rec.Code != http.StatusNotFound {
		t.Errorf("generate: expected 404, got %d", rec.Code)
	}
}

func TestCurrentDiagnosis(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.json(http.MethodGet, "/api/patients/P-300/diagnoses/current", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no history, got %d", rec.Code)
	}
	f.json(http.MethodPost, "/api/patients/P-300/diagnoses", `{"primaryDiagnosis":"First","confidence":0.6}`)
	f.json(http.MethodPost, "/api/patients/P-300/diagnoses", `{"primaryDiagnosis":"Second","confidence":0.7}`)

	rec := f.json(http.MethodGet, "/api/patients/P-300/diagnoses/current", "")
	var d Diagnosis
	json.Unmarshal(rec.Body.Bytes(), &d)
	if d.PrimaryDiagnosis != "Second" {
		t.Errorf("expected newest diagnosis, got %q", d.PrimaryDiagnosis)
	}

	rec = f.json(http.MethodGet, "/api/patients/P-300/diagnoses", "")
	var list struct {
		Data  []Diagnosis `json:"data"`
		Total int         `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Total != 2 || list.Data[0].PrimaryDiagnosis != "Second" {
		t.Errorf("expected newest first, got %+v", list)
	}
}

func TestGenerate_Simulated(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"diagnoses", "prognoses", "radiation-plans"} {
		rec := f.json(http.MethodPost, "/api/patients/P-300/"+path+"/generate", "")
		if rec.Code != http.StatusCreated {
			t.Fatalf("%s: expected 201, got %d: %s", path, rec.Code, rec.Body.String())
		}
		var out struct {
			Source    string `json:"source"`
			Simulated bool   `json:"simulated"`
			CreatedBy string `json:"createdBy"`
		}
		json.Unmarshal(rec.Body.Bytes(), &out)
		if out.Source != ai.SourceSimulated || !out.Simulated {
			t.Errorf("%s: expected simulated source, got %+v", path, out)
		}
		if out.CreatedBy != "dr-onc" {
			t.Errorf("%s: expected createdBy dr-onc, got %q", path, out.CreatedBy)
		}
	}

	rec := f.json(http.MethodGet, "/api/patients/P-300/radiation-plans/current", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected current plan after generate, got %d", rec.Code)
	}
}

func TestGenerate_UpstreamFailureIs502(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", &ai.UpstreamError{Provider: "failing", Err: errors.New("connection reset")}},
		{"format", &ai.FormatError{Kind: "diagnosis", Err: errors.New("unexpected end of JSON input")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, failingProvider{err: tt.err})
			rec := f.json(http.MethodPost, "/api/patients/P-300/diagnoses/generate", "")
			if rec.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "connection reset") || strings.Contains(rec.Body.String(), "JSON input") {
				t.Errorf("upstream cause leaked to client: %s", rec.Body.String())
			}
			_, total, _ := f.svc.ListDiagnoses(context.Background(), "P-300", 10, 0)
			if total != 0 {
				t.Errorf("failed generation must not persist, found %d", total)
			}
		})
	}
}

func TestBiomarkers_TrendFilterAndAlerts(t *testing.T) {
	f := newFixture(t, nil)
	post := func(body string) Biomarker {
		t.Helper()
		rec := f.json(http.MethodPost, "/api/patients/P-300/biomarkers", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var b Biomarker
		json.Unmarshal(rec.Body.Bytes(), &b)
		return b
	}

	first := post(`{"type":"CEA","value":3,"unit":"ng/mL","normalRangeMin":0,"normalRangeMax":5,"measuredAt":"2026-01-01T08:00:00Z"}`)
	if first.Trend != TrendStable {
		t.Errorf("first reading trend = %s, want stable", first.Trend)
	}
	second := post(`{"type":"CEA","value":6,"unit":"ng/mL","normalRangeMin":0,"normalRangeMax":5,"measuredAt":"2026-02-01T08:00:00Z"}`)
	if second.Trend != TrendUp {
		t.Errorf("second reading trend = %s, want up", second.Trend)
	}
	third := post(`{"type":"CEA","value":9,"unit":"ng/mL","normalRangeMin":0,"normalRangeMax":5,"trend":"stable","measuredAt":"2026-03-01T08:00:00Z"}`)
	if third.Trend != TrendStable {
		t.Errorf("explicit trend overridden: %s", third.Trend)
	}
	post(`{"type":"WBC","value":7.2,"unit":"10^9/L"}`)

	rec := f.json(http.MethodGet, "/api/patients/P-300/biomarkers?type=CEA", "")
	var list struct {
		Data  []Biomarker `json:"data"`
		Total int         `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Total != 3 || list.Data[0].Value != 9 {
		t.Errorf("expected 3 CEA readings newest first, got %+v", list)
	}

	alerts, total, err := f.alerts.ListByPatient(context.Background(), "P-300", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("expected 2 out-of-range alerts, got %d", total)
	}
	// newest first: 9 is 4 above a width of 5, 6 is 1 above.
	if alerts[0].Type != alert.TypeCritical || alerts[1].Type != alert.TypeWarning {
		t.Errorf("unexpected alert levels: %s, %s", alerts[0].Type, alerts[1].Type)
	}
}

func TestBiomarker_InvertedRange(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.json(http.MethodPost, "/api/patients/P-300/biomarkers", `{"type":"CRP","value":3,"normalRangeMin":10,"normalRangeMax":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if _, ok := fieldsOf(t, rec)["normalRangeMax"]; !ok {
		t.Errorf("expected normalRangeMax field error: %s", rec.Body.String())
	}
}

func TestPatientDeleteCascades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.json(http.MethodPost, "/api/patients/P-300/diagnoses/generate", "")
	f.json(http.MethodPost, "/api/patients/P-300/biomarkers", `{"type":"CEA","value":50,"normalRangeMin":0,"normalRangeMax":5}`)

	if err := f.patients.Delete(ctx, "P-300"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.diagnoses.Latest(ctx, "P-300"); !errors.Is(err, ErrNotFound) {
		t.Errorf("diagnoses survived patient delete: %v", err)
	}
	if items, _, _ := f.svc.biomarkers.ListByPatient(ctx, "P-300", BiomarkerFilter{Limit: 10}); len(items) != 0 {
		t.Errorf("biomarkers survived patient delete: %d", len(items))
	}
	if n, _ := f.alerts.CountUnacknowledged(ctx); n != 0 {
		t.Errorf("alerts survived patient delete: %d", n)
	}
}
