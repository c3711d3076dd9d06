package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/validation"
)

func newHandlerServer(t *testing.T, role string) (*echo.Echo, *Manager) {
	t.Helper()
	m := newTestManager(t)
	e := echo.New()
	e.Validator = validation.New()
	e.HTTPErrorHandler = apperr.Handler(zerolog.Nop())
	api := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := &auth.Principal{UserID: 1, Username: "ops", Role: role, Method: "bearer"}
			c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	})
	NewHandler(m).RegisterRoutes(api)
	return e, m
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterRevealsSecretOnce(t *testing.T) {
	e, _ := newHandlerServer(t, auth.RoleAdmin)

	rec := serve(e, http.MethodPost, "/api/webhooks", `{"url":"https://hooks.test/in","events":["alert.*"],"description":"pager"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID        int64    `json:"id"`
		Secret    string   `json:"secret"`
		Events    []string `json:"events"`
		CreatedBy string   `json:"createdBy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Secret == "" || created.CreatedBy != "ops" || len(created.Events) != 1 {
		t.Fatalf("unexpected registration %+v", created)
	}

	rec = serve(e, http.MethodGet, "/api/webhooks/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.Secret) {
		t.Error("secret must not be returned after registration")
	}
}

func TestHandler_RegisterValidation(t *testing.T) {
	e, _ := newHandlerServer(t, auth.RoleAdmin)
	tests := []struct {
		name, body, field string
	}{
		{"missing url", `{"events":["alert.*"]}`, "url"},
		{"bad scheme", `{"url":"ftp://hooks.test","events":["alert.*"]}`, "url"},
		{"no events", `{"url":"https://hooks.test","events":[]}`, "events"},
		{"bad pattern", `{"url":"https://hooks.test","events":["ALERT"]}`, "events"},
		{"short secret", `{"url":"https://hooks.test","events":["alert.*"],"secret":"abc"}`, "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, http.MethodPost, "/api/webhooks", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"field":"`+tt.field) {
				t.Errorf("expected field error for %s, got %s", tt.field, rec.Body.String())
			}
		})
	}
}

func TestHandler_LifecycleAndNotFound(t *testing.T) {
	e, m := newHandlerServer(t, auth.RoleAdmin)
	ep, err := m.Register(context.Background(), &RegisterRequest{URL: "https://hooks.test", Events: []string{"alert.raised"}})
	if err != nil {
		t.Fatal(err)
	}

	rec := serve(e, http.MethodPost, "/api/webhooks/1/pause", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"paused"`) {
		t.Fatalf("pause: %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, http.MethodPost, "/api/webhooks/1/resume", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"active"`) {
		t.Fatalf("resume: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/webhooks", "")
	var list struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Total != 1 {
		t.Errorf("expected 1 webhook, got %d", list.Total)
	}

	rec = serve(e, http.MethodGet, "/api/webhooks/1/deliveries", "")
	if rec.Code != http.StatusOK {
		t.Errorf("deliveries: %d", rec.Code)
	}

	if rec := serve(e, http.MethodDelete, "/api/webhooks/1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if _, err := m.Get(context.Background(), ep.ID); err == nil {
		t.Error("endpoint should be gone")
	}

	for _, path := range []string{"/api/webhooks/1", "/api/webhooks/1/deliveries"} {
		if rec := serve(e, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, rec.Code)
		}
	}
	if rec := serve(e, http.MethodPost, "/api/webhooks/deliveries/42/retry", ""); rec.Code != http.StatusNotFound {
		t.Errorf("retry unknown delivery: expected 404, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/api/webhooks/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id: expected 400, got %d", rec.Code)
	}
}

func TestHandler_AdminOnly(t *testing.T) {
	e, _ := newHandlerServer(t, auth.RoleDoctor)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/webhooks"},
		{http.MethodGet, "/api/webhooks"},
		{http.MethodDelete, "/api/webhooks/1"},
		{http.MethodPost, "/api/webhooks/1/test"},
	}
	for _, r := range routes {
		if rec := serve(e, r.method, r.path, `{}`); rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403, got %d", r.method, r.path, rec.Code)
		}
	}
}
