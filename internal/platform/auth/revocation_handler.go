package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
)

type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type revokeUserRequest struct {
	UserID int64 `json:"userId"`
}

type revocationListResponse struct {
	Count   int              `json:"count"`
	Entries []RevocationInfo `json:"entries"`
}

// RegisterRevocationRoutes registers the admin token revocation endpoints.
// They only make sense with bearer tokens.
func RegisterRevocationRoutes(api *echo.Group, tokens *TokenService) {
	admin := RequireRole(RoleAdmin)
	api.POST("/auth/revoke", handleRevokeToken(tokens), admin)
	api.POST("/auth/revoke-user", handleRevokeUser(tokens), admin)
	api.GET("/auth/revocations", handleListRevocations(tokens), admin)
}

// handleRevokeToken revokes a specific token by jti.
func handleRevokeToken(tokens *TokenService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeTokenRequest
		if err := c.Bind(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
		if req.JTI == "" {
			return apperr.Validation(apperr.FieldError{Field: "jti", Message: "is required"})
		}
		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = tokens.now().Add(tokens.ttl)
		}
		tokens.Revoke(req.JTI, req.ExpiresAt)
		return c.NoContent(http.StatusNoContent)
	}
}

// handleRevokeUser signs a user out of every bearer token issued so far.
func handleRevokeUser(tokens *TokenService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeUserRequest
		if err := c.Bind(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
		if req.UserID <= 0 {
			return apperr.Validation(apperr.FieldError{Field: "userId", Message: "is required"})
		}
		tokens.RevokeUser(req.UserID)
		return c.NoContent(http.StatusNoContent)
	}
}

func handleListRevocations(tokens *TokenService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var entries []RevocationInfo
		if tokens.revoked != nil {
			entries = tokens.revoked.Entries()
		}
		if entries == nil {
			entries = []RevocationInfo{}
		}
		return c.JSON(http.StatusOK, revocationListResponse{Count: len(entries), Entries: entries})
	}
}
