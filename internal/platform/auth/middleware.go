package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

var (
	ErrNoCredentials      = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid or expired credentials")
)

// PrincipalResolver establishes the principal for a request. Exactly one
// resolver is installed per process; routes never mix mechanisms.
type PrincipalResolver interface {
	Resolve(c echo.Context) (*Principal, error)
	// Mode names the strategy: bearer, session or development.
	Mode() string
}

// IdentityLookup resolves a user id to the current principal data. It lets
// credentials outlive role changes without trusting stale claims.
type IdentityLookup interface {
	LookupIdentity(ctx context.Context, userID int64) (*Principal, error)
}

// Authenticate resolves the principal before any protected handler runs.
// Requests for which skipper returns true pass through unauthenticated.
func Authenticate(resolver PrincipalResolver, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			p, err := resolver.Resolve(c)
			if err != nil || p == nil {
				if errors.Is(err, ErrNoCredentials) {
					return apperr.Unauthorized("authentication required")
				}
				return apperr.Unauthorized("invalid or expired credentials")
			}

			c.Set("principal", p)
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoCredentials
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidCredentials
	}
	return strings.TrimSpace(parts[1]), nil
}

// DevResolver grants a fixed admin principal to requests that carry no
// credentials. Requests that do present a bearer token are verified by the
// wrapped resolver so real identities still work in development.
type DevResolver struct {
	Next PrincipalResolver
}

// DevPrincipal is the identity used for credential-less development requests.
var DevPrincipal = Principal{
	UserID:   0,
	Username: "dev-admin",
	Role:     RoleAdmin,
	Method:   "development",
}

func (d *DevResolver) Mode() string { return "development" }

func (d *DevResolver) Resolve(c echo.Context) (*Principal, error) {
	if c.Request().Header.Get("Authorization") == "" || d.Next == nil {
		p := DevPrincipal
		return &p, nil
	}
	return d.Next.Resolve(c)
}
