package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

// statusFromError returns the HTTP status an error will be rendered with.
func statusFromError(err error) int {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
