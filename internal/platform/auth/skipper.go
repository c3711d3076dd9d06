package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass authentication: infrastructure
// endpoints and the credential-establishing auth routes.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/metrics":           true,
	"/api/auth/login":    true,
	"/api/auth/register": true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
// Stored scan files under /uploads are served without credentials.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path()) || strings.HasPrefix(c.Request().URL.Path, "/uploads/")
}

// IsPublicPath reports whether the given route path is public.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
