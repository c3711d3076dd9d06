package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/config"
	"github.com/quantnex/quantnex/internal/platform/ai"
	"github.com/quantnex/quantnex/internal/platform/websocket"
)

func testConfig(t *testing.T, authMode string) *config.Config {
	t.Helper()
	return &config.Config{
		Port:            "0",
		Env:             "test",
		AuthMode:        authMode,
		JWTSecret:       "server-test-secret",
		TokenTTL:        time.Hour,
		SessionTTL:      time.Hour,
		StorageBackend:  "memory",
		DefaultTenant:   "default",
		CORSOrigins:     []string{"http://localhost:5173"},
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
		RequestTimeout:  10 * time.Second,
		MaxUploadSize:   "1M",
		UploadDir:       t.TempDir(),
		BlobBackend:     "local",
		TrainingWorkers: 1,
		TrainingTimeout: time.Minute,
	}
}

func newTestServer(t *testing.T, authMode string) *Server {
	t.Helper()
	provider := ai.NewSimulatedProvider(rand.New(rand.NewSource(7)), 0)
	s, err := New(context.Background(), testConfig(t, authMode), zerolog.Nop(), WithProvider(provider))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

type client struct {
	t     *testing.T
	h     http.Handler
	token string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// login registers a doctor account and returns a client holding its token.
func login(t *testing.T, h http.Handler, username string) *client {
	t.Helper()
	anon := &client{t: t, h: h}
	expect(t, anon.do(http.MethodPost, "/api/auth/register", map[string]any{
		"username": username,
		"email":    username + "@clinic.test",
		"password": "correct-horse",
		"name":     "Dr " + username,
	}), http.StatusCreated)

	rec := anon.do(http.MethodPost, "/api/auth/login", map[string]any{
		"username": username,
		"password": "correct-horse",
	})
	expect(t, rec, http.StatusOK)
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("login returned no token")
	}
	return &client{t: t, h: h, token: resp.Token}
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t, "bearer")
	anon := &client{t: t, h: s.Handler()}

	rec := anon.do(http.MethodGet, "/health", nil)
	expect(t, rec, http.StatusOK)
	var health map[string]string
	decode(t, rec, &health)
	if health["status"] != "ok" || health["storage"] != "memory" {
		t.Errorf("unexpected health body: %v", health)
	}

	expect(t, anon.do(http.MethodGet, "/metrics", nil), http.StatusOK)
}

func TestProtectedRoutesRequireCredentials(t *testing.T) {
	s := newTestServer(t, "bearer")
	anon := &client{t: t, h: s.Handler()}

	for _, path := range []string{"/api/patients", "/api/alerts", "/api/dashboard/summary", "/api/auth/me"} {
		if rec := anon.do(http.MethodGet, path, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}

	bad := &client{t: t, h: s.Handler(), token: "not-a-jwt"}
	expect(t, bad.do(http.MethodGet, "/api/patients", nil), http.StatusUnauthorized)
}

func TestAnonymousWritesLeaveNoRecords(t *testing.T) {
	s := newTestServer(t, "bearer")
	doc := login(t, s.Handler(), "writer")
	anon := &client{t: t, h: s.Handler()}

	expect(t, doc.do(http.MethodPost, "/api/patients", map[string]any{
		"patientId": "P-2001", "name": "Existing", "age": 61, "gender": "Male",
		"cancerType": "lungCancer", "stage": "III",
	}), http.StatusCreated)

	expect(t, anon.do(http.MethodPost, "/api/patients", map[string]any{
		"patientId": "P-2002", "name": "Intruder", "age": 40, "gender": "Female",
		"cancerType": "melanoma", "stage": "I",
	}), http.StatusUnauthorized)
	expect(t, anon.do(http.MethodPost, "/api/patients/P-2001/alerts", map[string]any{
		"type": "warning", "message": "forged",
	}), http.StatusUnauthorized)

	var page struct {
		Total int `json:"total"`
	}
	rec := doc.do(http.MethodGet, "/api/patients", nil)
	expect(t, rec, http.StatusOK)
	decode(t, rec, &page)
	if page.Total != 1 {
		t.Errorf("expected only the authorized patient, got %d", page.Total)
	}
	expect(t, doc.do(http.MethodGet, "/api/patients/P-2002", nil), http.StatusNotFound)

	rec = doc.do(http.MethodGet, "/api/patients/P-2001/alerts", nil)
	expect(t, rec, http.StatusOK)
	decode(t, rec, &page)
	if page.Total != 0 {
		t.Errorf("expected no alerts, got %d", page.Total)
	}
}

func TestHugePageNumberIsEmptyPage(t *testing.T) {
	s := newTestServer(t, "development")
	dev := &client{t: t, h: s.Handler()}
	expect(t, dev.do(http.MethodPost, "/api/patients", map[string]any{
		"patientId": "P-3001", "name": "Paged", "age": 50, "gender": "Other",
		"cancerType": "lymphoma", "stage": "II",
	}), http.StatusCreated)

	rec := dev.do(http.MethodGet, "/api/patients?page=922337203685477581", nil)
	expect(t, rec, http.StatusOK)
	var page struct {
		Data  []json.RawMessage `json:"data"`
		Total int               `json:"total"`
	}
	decode(t, rec, &page)
	if len(page.Data) != 0 || page.Total != 1 {
		t.Errorf("expected an empty page over one patient, got %d rows of %d", len(page.Data), page.Total)
	}
}

func TestClinicalWorkflow(t *testing.T) {
	s := newTestServer(t, "bearer")
	doc := login(t, s.Handler(), "oncdoc")

	expect(t, doc.do(http.MethodPost, "/api/patients", map[string]any{
		"patientId":  "P-1001",
		"name":       "Ada Example",
		"age":        54,
		"gender":     "Female",
		"cancerType": "breastCancer",
		"stage":      "II",
	}), http.StatusCreated)

	rec := doc.do(http.MethodPost, "/api/patients/P-1001/diagnoses/generate", nil)
	expect(t, rec, http.StatusCreated)
	var dx struct {
		PrimaryDiagnosis string `json:"primaryDiagnosis"`
		Simulated        bool   `json:"simulated"`
		Source           string `json:"source"`
	}
	decode(t, rec, &dx)
	if !dx.Simulated || dx.PrimaryDiagnosis == "" {
		t.Errorf("expected a simulated diagnosis, got %+v", dx)
	}

	expect(t, doc.do(http.MethodGet, "/api/patients/P-1001/diagnoses/current", nil), http.StatusOK)

	expect(t, doc.do(http.MethodPost, "/api/patients/P-1001/biomarkers", map[string]any{
		"type":           "CA 15-3",
		"value":          80,
		"unit":           "U/mL",
		"normalRangeMin": 0,
		"normalRangeMax": 30,
	}), http.StatusCreated)

	rec = doc.do(http.MethodGet, "/api/alerts?acknowledged=false", nil)
	expect(t, rec, http.StatusOK)
	var alerts struct {
		Data []struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
		Total int `json:"total"`
	}
	decode(t, rec, &alerts)
	if alerts.Total != 1 || alerts.Data[0].Type != "critical" {
		t.Fatalf("expected one critical alert, got %+v", alerts)
	}

	rec = doc.do(http.MethodGet, "/api/dashboard/summary", nil)
	expect(t, rec, http.StatusOK)
	var summary struct {
		TotalPatients        int `json:"totalPatients"`
		UnacknowledgedAlerts int `json:"unacknowledgedAlerts"`
	}
	decode(t, rec, &summary)
	if summary.TotalPatients != 1 || summary.UnacknowledgedAlerts != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// Deleting is admin-only; research is researcher-only.
	expect(t, doc.do(http.MethodDelete, "/api/patients/P-1001", nil), http.StatusForbidden)
	expect(t, doc.do(http.MethodGet, "/api/research/training-jobs", nil), http.StatusForbidden)
	expect(t, doc.do(http.MethodGet, "/api/patients/P-1001", nil), http.StatusOK)
}

func TestScanUploadIsServedFromUploads(t *testing.T) {
	s := newTestServer(t, "bearer")
	doc := login(t, s.Handler(), "radiology")
	expect(t, doc.do(http.MethodPost, "/api/patients", map[string]any{
		"patientId":  "P-2002",
		"name":       "Ben Example",
		"age":        61,
		"gender":     "Male",
		"cancerType": "lungCancer",
		"stage":      "III",
	}), http.StatusCreated)

	content := []byte("\x89PNG\r\n\x1a\nfake-image-bytes")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("scanType", "CT")
	_ = mw.WriteField("tumorDetected", "true")
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="chest.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/patients/P-2002/scans", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+doc.token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	expect(t, rec, http.StatusCreated)

	var scan struct {
		FileURL string `json:"fileUrl"`
	}
	decode(t, rec, &scan)
	if !strings.HasPrefix(scan.FileURL, "/uploads/") {
		t.Fatalf("unexpected file url %q", scan.FileURL)
	}

	anon := &client{t: t, h: s.Handler()}
	rec = anon.do(http.MethodGet, scan.FileURL, nil)
	expect(t, rec, http.StatusOK)
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Error("served file differs from the upload")
	}
}

func TestLogoutRevokesBearerToken(t *testing.T) {
	s := newTestServer(t, "bearer")
	doc := login(t, s.Handler(), "leaving")

	expect(t, doc.do(http.MethodGet, "/api/auth/me", nil), http.StatusOK)
	expect(t, doc.do(http.MethodPost, "/api/auth/logout", nil), http.StatusNoContent)
	expect(t, doc.do(http.MethodGet, "/api/auth/me", nil), http.StatusUnauthorized)
}

func TestDevelopmentModeGrantsDevAdmin(t *testing.T) {
	s := newTestServer(t, "development")
	anon := &client{t: t, h: s.Handler()}

	rec := anon.do(http.MethodGet, "/api/auth/me", nil)
	expect(t, rec, http.StatusOK)
	var me struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	decode(t, rec, &me)
	if me.Username != "dev-admin" || me.Role != "admin" {
		t.Errorf("unexpected dev principal: %+v", me)
	}

	// Presented credentials are still verified.
	bad := &client{t: t, h: s.Handler(), token: "forged"}
	expect(t, bad.do(http.MethodGet, "/api/auth/me", nil), http.StatusUnauthorized)
}

func TestSessionModeUsesCookie(t *testing.T) {
	s := newTestServer(t, "session")
	anon := &client{t: t, h: s.Handler()}
	expect(t, anon.do(http.MethodPost, "/api/auth/register", map[string]any{
		"username": "cookieuser",
		"email":    "cookie@clinic.test",
		"password": "correct-horse",
	}), http.StatusCreated)

	rec := anon.do(http.MethodPost, "/api/auth/login", map[string]any{
		"username": "cookieuser",
		"password": "correct-horse",
	})
	expect(t, rec, http.StatusOK)
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("session login set no cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	me := httptest.NewRecorder()
	s.Handler().ServeHTTP(me, req)
	expect(t, me, http.StatusOK)

	// Revocation routes are bearer-only.
	req = httptest.NewRequest(http.MethodGet, "/api/auth/revocations", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rev := httptest.NewRecorder()
	s.Handler().ServeHTTP(rev, req)
	expect(t, rev, http.StatusNotFound)
}

func TestAlertStreamDeliversRaisedAlerts(t *testing.T) {
	s := newTestServer(t, "bearer")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	doc := login(t, s.Handler(), "streamdoc")

	expect(t, doc.do(http.MethodPost, "/api/patients", map[string]any{
		"patientId":  "P-2002",
		"name":       "Stream Subject",
		"age":        61,
		"gender":     "Male",
		"cancerType": "lungCancer",
		"stage":      "III",
	}), http.StatusCreated)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/alerts/stream?patientId=P-2002"
	if _, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("anonymous stream connection should be refused")
	}

	header := http.Header{"Authorization": []string{"Bearer " + doc.token}}
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for s.hub.TopicCount(websocket.PatientTopic("P-2002")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	expect(t, doc.do(http.MethodPost, "/api/patients/P-2002/alerts", map[string]any{
		"type":    "warning",
		"message": "CEA trending up",
	}), http.StatusCreated)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev websocket.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != "alert.raised" || ev.PatientID != "P-2002" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestWebhookReceivesAcknowledgedAlert(t *testing.T) {
	received := make(chan string, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-QuantNex-Event")
	}))
	defer hook.Close()

	s := newTestServer(t, "development")
	admin := &client{t: t, h: s.Handler()}

	expect(t, admin.do(http.MethodPost, "/api/webhooks", map[string]any{
		"url":    hook.URL,
		"events": []string{"alert.acknowledged"},
	}), http.StatusCreated)
	expect(t, admin.do(http.MethodPost, "/api/patients", map[string]any{
		"patientId":  "P-3003",
		"name":       "Hook Subject",
		"age":        39,
		"gender":     "Other",
		"cancerType": "melanoma",
		"stage":      "I",
	}), http.StatusCreated)

	rec := admin.do(http.MethodPost, "/api/patients/P-3003/alerts", map[string]any{
		"type":    "info",
		"message": "follow-up scheduled",
	})
	expect(t, rec, http.StatusCreated)
	var created struct {
		ID int64 `json:"id"`
	}
	decode(t, rec, &created)
	expect(t, admin.do(http.MethodPatch, fmt.Sprintf("/api/alerts/%d/acknowledge", created.ID), nil), http.StatusOK)

	select {
	case ev := <-received:
		if ev != "alert.acknowledged" {
			t.Errorf("expected only the acknowledged event, got %q", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}
