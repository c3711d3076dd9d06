package user

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/validation"
	"github.com/quantnex/quantnex/pkg/pagination"
)

// Handler serves the account routes. When sessions is non-nil logins create
// cookie sessions; otherwise they issue bearer tokens.
type Handler struct {
	svc      *Service
	tokens   *auth.TokenService
	sessions *auth.SessionManager
}

func NewHandler(svc *Service, tokens *auth.TokenService, sessions *auth.SessionManager) *Handler {
	return &Handler{svc: svc, tokens: tokens, sessions: sessions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)

	api.PATCH("/users/me", h.UpdateMe)
	api.POST("/users/me/password", h.ChangePassword)

	admin := auth.RequireRole(auth.RoleAdmin)
	api.GET("/users", h.ListUsers, admin)
	api.POST("/users", h.CreateUser, admin)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	if h.sessions != nil {
		if _, err := h.sessions.Start(c, u.ID); err != nil {
			return apperr.Internal(err)
		}
		return c.JSON(http.StatusOK, LoginResponse{User: u})
	}

	token, exp, err := h.tokens.Issue(c.Request().Context(), u.ID, u.Role)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: &exp, User: u})
}

// Logout ends the session or revokes the presented bearer token.
func (h *Handler) Logout(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return apperr.Unauthorized("authentication required")
	}
	switch p.Method {
	case "session":
		if h.sessions != nil {
			if err := h.sessions.End(c, p.SessionID); err != nil {
				return apperr.Internal(err)
			}
		}
	case "bearer":
		if exp, ok := c.Get("token_expires_at").(time.Time); ok && h.tokens != nil {
			h.tokens.Revoke(p.TokenID, exp)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return apperr.Unauthorized("authentication required")
	}
	if p.Method == "development" && p.UserID == 0 {
		return c.JSON(http.StatusOK, &User{Username: p.Username, Name: "Development Admin", Role: p.Role})
	}
	u, err := h.svc.Get(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	var req UpdateProfileRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), &req); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req CreateUserRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	u, err := h.svc.CreateWithRole(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
