package auth

import (
	"context"
)

const (
	RoleAdmin      = "admin"
	RoleDoctor     = "doctor"
	RoleResearcher = "researcher"
)

// ValidRoles lists the accepted role names.
var ValidRoles = map[string]bool{
	RoleAdmin:      true,
	RoleDoctor:     true,
	RoleResearcher: true,
}

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	PrincipalKey contextKey = "principal"
)

// Principal is the authenticated clinician behind a request.
type Principal struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	// Method is the resolver that produced the principal: bearer, session
	// or development.
	Method string `json:"method"`
	// TokenID is the jti of the bearer token, empty for other methods.
	TokenID string `json:"-"`
	// SessionID is the session identifier, empty for other methods.
	SessionID string `json:"-"`
}

// HasRole reports whether the principal holds one of roles. Admins hold
// every role.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// WithPrincipal stores p on ctx together with the legacy user id / roles keys.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, p)
	ctx = context.WithValue(ctx, UserIDKey, p.UserID)
	ctx = context.WithValue(ctx, UserRolesKey, []string{p.Role})
	return ctx
}

// PrincipalFromContext returns the request principal or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(PrincipalKey).(*Principal)
	return p
}

func UserIDFromContext(ctx context.Context) int64 {
	uid, _ := ctx.Value(UserIDKey).(int64)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// ActorFromContext returns the username of the principal for audit fields.
func ActorFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.Username
	}
	return ""
}
