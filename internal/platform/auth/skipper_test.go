package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		route string
		url   string
		want  bool
	}{
		{"/health", "/health", true},
		{"/metrics", "/metrics", true},
		{"/api/auth/login", "/api/auth/login", true},
		{"/api/auth/register", "/api/auth/register", true},
		{"/uploads/*", "/uploads/scans/a.png", true},
		{"/api/auth/me", "/api/auth/me", false},
		{"/api/patients", "/api/patients", false},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetPath(tt.route)
			if got := AuthSkipper(c); got != tt.want {
				t.Errorf("AuthSkipper(%s) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
