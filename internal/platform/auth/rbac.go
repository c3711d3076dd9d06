package auth

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

// RequireRole returns middleware that checks if the principal has at least
// one of the specified roles. Admins always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return apperr.Unauthorized("authentication required")
			}
			if !p.HasRole(roles...) {
				return apperr.Forbidden(fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
			}
			return next(c)
		}
	}
}
