package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/db"
)

const tokenIssuer = "quantnex"

// Claims are the JWT claims issued at login. The subject is the user id,
// which is only meaningful inside the issuing tenant.
type Claims struct {
	jwt.RegisteredClaims
	Role   string `json:"role"`
	Tenant string `json:"tenant,omitempty"`
}

// TokenService issues and verifies signed, expiring bearer tokens.
type TokenService struct {
	secret  []byte
	ttl     time.Duration
	users   IdentityLookup
	revoked *TokenRevocationStore
	now     func() time.Time
}

// NewTokenService creates a TokenService. users may be nil, in which case
// the role claim is trusted as issued.
func NewTokenService(secret string, ttl time.Duration, users IdentityLookup, revoked *TokenRevocationStore) *TokenService {
	return &TokenService{
		secret:  []byte(secret),
		ttl:     ttl,
		users:   users,
		revoked: revoked,
		now:     time.Now,
	}
}

// Issue signs a token for the given user in the tenant carried by ctx.
func (s *TokenService) Issue(ctx context.Context, userID int64, role string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:   role,
		Tenant: db.TenantFromContext(ctx),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, issuer and expiry and returns the claims.
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	if s.revoked != nil {
		if s.revoked.IsRevoked(claims.ID) {
			return nil, ErrInvalidCredentials
		}
		if uid, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil && claims.IssuedAt != nil &&
			s.revoked.IsUserRevoked(uid, claims.IssuedAt.Time) {
			return nil, ErrInvalidCredentials
		}
	}
	return claims, nil
}

// Revoke invalidates the token with the given jti until it would have expired.
func (s *TokenService) Revoke(jti string, expiresAt time.Time) {
	if s.revoked != nil && jti != "" {
		s.revoked.Revoke(jti, expiresAt)
	}
}

// RevokeUser invalidates every token issued to userID so far.
func (s *TokenService) RevokeUser(userID int64) {
	if s.revoked != nil {
		s.revoked.RevokeUser(userID, s.ttl)
	}
}

// BearerResolver authenticates requests with an Authorization: Bearer token.
type BearerResolver struct {
	Tokens *TokenService
}

func (b *BearerResolver) Mode() string { return "bearer" }

func (b *BearerResolver) Resolve(c echo.Context) (*Principal, error) {
	raw, err := bearerToken(c.Request())
	if err != nil {
		return nil, err
	}
	claims, err := b.Tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Tenant != db.TenantFromContext(c.Request().Context()) {
		return nil, ErrInvalidCredentials
	}
	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	p := &Principal{UserID: uid, Role: claims.Role}
	if b.Tokens.users != nil {
		p, err = b.Tokens.users.LookupIdentity(c.Request().Context(), uid)
		if err != nil || p == nil {
			return nil, ErrInvalidCredentials
		}
	}
	p.Method = "bearer"
	p.TokenID = claims.ID
	c.Set("token_expires_at", claims.ExpiresAt.Time)
	return p, nil
}
