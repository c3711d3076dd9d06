package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

const maxHeaderValueSize = 8 << 10

var (
	sqlPatterns = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize returns middleware that rejects requests with path traversal,
// null bytes, header injection or script payloads in query parameters.
// SQL-looking query values are only logged.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if reason := checkPath(req.URL.Path, req.URL.RawPath); reason != "" {
				return apperr.BadRequest(reason)
			}
			if reason := checkHeaders(req.Header); reason != "" {
				return apperr.BadRequest(reason)
			}
			reason, suspicious := checkQuery(req.URL.Query())
			if suspicious != "" {
				logger.Warn().
					Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
					Str("param", suspicious).
					Str("path", req.URL.Path).
					Str("remote_ip", c.RealIP()).
					Msg("suspicious SQL pattern in query parameter")
			}
			if reason != "" {
				return apperr.BadRequest(reason)
			}
			return next(c)
		}
	}
}

func checkPath(path, raw string) string {
	for _, p := range []string{path, raw} {
		switch {
		case p == "":
		case traversal(p):
			return "path traversal detected"
		case nullByte(p):
			return "null byte detected in path"
		}
	}
	return ""
}

func checkHeaders(h http.Header) string {
	for name, values := range h {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}
	return ""
}

// checkQuery returns the rejection reason, if any, and the name of a
// parameter whose value looks like SQL.
func checkQuery(q url.Values) (reason, suspicious string) {
	for key, values := range q {
		for _, v := range values {
			switch {
			case nullByte(key) || nullByte(v):
				return "null byte detected in query parameter", suspicious
			case scriptPatterns.MatchString(key) || scriptPatterns.MatchString(v):
				return "script content detected in query parameter", suspicious
			case sqlPatterns.MatchString(v):
				suspicious = key
			}
		}
	}
	return "", suspicious
}

func traversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func nullByte(s string) bool {
	return strings.ContainsRune(s, 0) || strings.Contains(strings.ToLower(s), "%00")
}

// SanitizeString strips null bytes and control characters other than
// newline, carriage return and tab, then trims surrounding whitespace.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case r == '\n', r == '\r', r == '\t':
		case r == 0, unicode.IsControl(r):
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
