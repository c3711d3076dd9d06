package apperr

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func runHandler(t *testing.T, err error) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	Handler(logger)(err, c)
	return rec, logBuf.String()
}

func TestHandler_ValidationError(t *testing.T) {
	rec, logs := runHandler(t, Validation(FieldError{Field: "name", Message: "is required"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error  string       `json:"error"`
		Fields []FieldError `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Fields) != 1 || body.Fields[0].Field != "name" {
		t.Errorf("unexpected fields: %+v", body.Fields)
	}
	if logs != "" {
		t.Errorf("expected no log output for validation errors, got %q", logs)
	}
}

func TestHandler_InternalErrorHidesCause(t *testing.T) {
	rec, logs := runHandler(t, errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal cause leaked to client")
	}
	if !strings.Contains(logs, "connection refused") {
		t.Error("expected cause in server log")
	}
	if !strings.Contains(logs, "rid-1") {
		t.Error("expected request id in server log")
	}
}

func TestHandler_UpstreamIs502(t *testing.T) {
	rec, logs := runHandler(t, Upstream(errors.New("model returned prose")))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "prose") {
		t.Error("upstream cause leaked to client")
	}
	if logs == "" {
		t.Error("expected upstream error to be logged")
	}
}

func TestHandler_EchoHTTPError(t *testing.T) {
	rec, _ := runHandler(t, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large"))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "PAYLOAD_TOO_LARGE") {
		t.Errorf("expected PAYLOAD_TOO_LARGE code, got %s", rec.Body.String())
	}
}

func TestHandler_CommittedResponseIsNotRewritten(t *testing.T) {
	var logBuf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = c.String(http.StatusOK, "partial")

	Handler(zerolog.New(&logBuf))(errors.New("late failure"), c)

	if rec.Code != http.StatusOK {
		t.Errorf("expected original status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("expected body untouched, got %q", rec.Body.String())
	}
}

func TestFrom_WrappedNotFound(t *testing.T) {
	err := From(errors.Join(errors.New("patient P1"), ErrNotFound))
	if err.Status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", err.Status)
	}
}
