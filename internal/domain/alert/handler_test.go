package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/domain/patient"
	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/validation"
)

func asUser(name string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := &auth.Principal{UserID: 3, Username: name, Role: auth.RoleDoctor, Method: "bearer"}
			c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

type fixture struct {
	e        *echo.Echo
	svc      *Service
	patients *patient.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	patients := patient.NewService(patient.NewMemRepo(), zerolog.Nop())
	age := 47
	if _, err := patients.Create(context.Background(), &patient.CreateRequest{
		PatientID: "P-200", Name: "Alert Subject", Age: &age, Gender: "Female", CancerType: "ovarianCancer", Stage: "II",
	}); err != nil {
		t.Fatal(err)
	}
	svc := NewService(NewMemRepo(), patients, zerolog.Nop())
	patients.OnDelete(svc)

	e := echo.New()
	e.Validator = validation.New()
	e.HTTPErrorHandler = apperr.Handler(zerolog.Nop())
	NewHandler(svc).RegisterRoutes(e.Group("/api", asUser("dr-house")))
	return &fixture{e: e, svc: svc, patients: patients}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

type listBody struct {
	Data  []Alert `json:"data"`
	Total int     `json:"total"`
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) listBody {
	t.Helper()
	var out listBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestCreateAlert(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/patients/P-200/alerts", `{"type":"warning","message":"CA-125 rising","details":"three consecutive increases"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var a Alert
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Acknowledged || a.AcknowledgedAt != nil || a.AcknowledgedBy != nil {
		t.Errorf("new alert should be unacknowledged: %+v", a)
	}
	if a.PatientID != "P-200" || a.Type != TypeWarning {
		t.Errorf("unexpected alert: %+v", a)
	}
}

func TestCreateAlert_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad type", `{"type":"urgent","message":"x"}`, http.StatusBadRequest},
		{"missing message", `{"type":"info"}`, http.StatusBadRequest},
		{"blank message", `{"type":"info","message":"   "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/patients/P-200/alerts", tt.body)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}

	rec := f.do(http.MethodPost, "/api/patients/P-404/alerts", `{"type":"info","message":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown patient, got %d", rec.Code)
	}

	if items, total, err := f.svc.ListByPatient(context.Background(), "P-200", 10, 0); err != nil || total != 0 {
		t.Errorf("rejected alerts must not be stored, got %d (%v) %v", total, items, err)
	}
}

func TestAcknowledge_Idempotent(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Raise(context.Background(), "P-200", TypeCritical, "PSA critical", "")
	if err != nil {
		t.Fatal(err)
	}

	rec := f.do(http.MethodPatch, "/api/alerts/1/acknowledge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var first Alert
	json.Unmarshal(rec.Body.Bytes(), &first)
	if !first.Acknowledged || first.AcknowledgedAt == nil || first.AcknowledgedBy == nil || *first.AcknowledgedBy != "dr-house" {
		t.Fatalf("expected acknowledgement stamped, got %+v", first)
	}
	if first.ID != a.ID {
		t.Fatalf("acknowledged wrong alert")
	}

	rec = f.do(http.MethodPatch, "/api/alerts/1/acknowledge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", rec.Code)
	}
	var second Alert
	json.Unmarshal(rec.Body.Bytes(), &second)
	if !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Errorf("repeat acknowledge changed timestamp: %v -> %v", first.AcknowledgedAt, second.AcknowledgedAt)
	}
}

func TestAcknowledge_Errors(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPatch, "/api/alerts/99/acknowledge", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPatch, "/api/alerts/abc/acknowledge", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListAlerts_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, typ := range []string{TypeInfo, TypeWarning, TypeCritical} {
		if _, err := f.svc.Raise(ctx, "P-200", typ, typ+" alert", ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.Acknowledge(ctx, 1); err != nil {
		t.Fatal(err)
	}

	out := decodeList(t, f.do(http.MethodGet, "/api/alerts?acknowledged=false", ""))
	if out.Total != 2 {
		t.Fatalf("expected 2 unacknowledged, got %d", out.Total)
	}
	if out.Data[0].Type != TypeCritical {
		t.Errorf("expected newest first, got %s", out.Data[0].Type)
	}

	out = decodeList(t, f.do(http.MethodGet, "/api/alerts?type=critical", ""))
	if out.Total != 1 {
		t.Errorf("expected 1 critical, got %d", out.Total)
	}

	out = decodeList(t, f.do(http.MethodGet, "/api/patients/P-200/alerts", ""))
	if out.Total != 3 {
		t.Errorf("expected 3 patient alerts, got %d", out.Total)
	}

	if rec := f.do(http.MethodGet, "/api/alerts?acknowledged=maybe", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad filter, got %d", rec.Code)
	}

	n, err := f.svc.CountUnacknowledged(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountUnacknowledged = %d, %v", n, err)
	}
}

func TestPatientDeleteRemovesAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Raise(ctx, "P-200", TypeInfo, "note", ""); err != nil {
		t.Fatal(err)
	}
	if err := f.patients.Delete(ctx, "P-200"); err != nil {
		t.Fatal(err)
	}
	items, total, err := f.svc.List(ctx, ListFilter{Limit: 10})
	if err != nil || total != 0 || len(items) != 0 {
		t.Errorf("expected no alerts after patient delete, got %d (%v)", total, err)
	}
}
