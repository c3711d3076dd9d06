package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/auth"
)

// AccessEntry describes one access to patient-scoped clinical data.
type AccessEntry struct {
	UserID     int64
	Username   string
	Role       string
	Resource   string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AccessRecorder persists access entries in addition to the structured log.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

// AccessRecorderFunc is a function adapter for AccessRecorder.
type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// Audit returns middleware that logs every access to clinical routes under
// /api (patients, scans, alerts, dashboard) with the acting principal.
// Auth, user and research routes are not audited.
func Audit(logger zerolog.Logger, recorders ...AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resource := clinicalResource(req.URL.Path)
			if resource == "" {
				return next(c)
			}

			err := next(c)

			entry := AccessEntry{
				Timestamp:  time.Now().UTC(),
				Resource:   resource,
				PatientID:  c.Param("patientId"),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				Path:       req.URL.Path,
				Method:     req.Method,
				StatusCode: c.Response().Status,
			}
			if err != nil && !c.Response().Committed {
				entry.StatusCode = statusFromError(err)
			}
			if p := auth.PrincipalFromContext(req.Context()); p != nil {
				entry.UserID = p.UserID
				entry.Username = p.Username
				entry.Role = p.Role
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "clinical_access").
				Str("request_id", entry.RequestID).
				Int64("user_id", entry.UserID).
				Str("username", entry.Username).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("clinical_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// clinicalResource names the audited resource for path, or "" when the path
// is not clinical.
//
//   - /api/patients                 -> patients
//   - /api/patients/P100/scans      -> scans
//   - /api/scans/4                  -> scans
//   - /api/alerts/7/acknowledge     -> alerts
func clinicalResource(path string) string {
	if !strings.HasPrefix(path, "/api/") {
		return ""
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/"), "/"), "/")
	switch segments[0] {
	case "patients":
		if len(segments) >= 3 {
			return segments[2]
		}
		return "patients"
	case "scans", "alerts", "dashboard":
		return segments[0]
	}
	return ""
}
