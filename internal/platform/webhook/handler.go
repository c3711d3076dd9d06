package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/memstore"
	"github.com/quantnex/quantnex/internal/platform/validation"
	"github.com/quantnex/quantnex/pkg/pagination"
)

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes mounts the admin-only webhook management routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := auth.RequireRole(auth.RoleAdmin)
	api.POST("/webhooks", h.Register, admin)
	api.GET("/webhooks", h.List, admin)
	api.GET("/webhooks/:id", h.Get, admin)
	api.DELETE("/webhooks/:id", h.Delete, admin)
	api.POST("/webhooks/:id/pause", h.Pause, admin)
	api.POST("/webhooks/:id/resume", h.Resume, admin)
	api.POST("/webhooks/:id/test", h.Test, admin)
	api.GET("/webhooks/:id/deliveries", h.Deliveries, admin)
	api.POST("/webhooks/deliveries/:id/retry", h.Retry, admin)
}

// registration is the only response that reveals the signing secret.
type registration struct {
	*Endpoint
	Secret string `json:"secret"`
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ep, err := h.manager.Register(c.Request().Context(), &req)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusCreated, registration{Endpoint: ep, Secret: ep.Secret})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	all := h.manager.List(c.Request().Context())
	return c.JSON(http.StatusOK, pagination.NewResponse(memstore.Page(all, pg.Limit, pg.Offset), len(all), pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ep, err := h.manager.Get(c.Request().Context(), id)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.manager.Delete(c.Request().Context(), id); err != nil {
		return toAppError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Pause(c echo.Context) error {
	return h.status(c, h.manager.Pause)
}

func (h *Handler) Resume(c echo.Context) error {
	return h.status(c, h.manager.Resume)
}

func (h *Handler) status(c echo.Context, fn func(context.Context, int64) (*Endpoint, error)) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ep, err := fn(c.Request().Context(), id)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Test(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.manager.Test(c.Request().Context(), id)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Deliveries(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	all, err := h.manager.Deliveries(c.Request().Context(), id)
	if err != nil {
		return toAppError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(memstore.Page(all, pg.Limit, pg.Offset), len(all), pg))
}

func (h *Handler) Retry(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.manager.Retry(c.Request().Context(), id)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperr.Validation(apperr.FieldError{Field: "id", Message: "must be an integer"})
	}
	return id, nil
}

func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("webhook")
	case errors.Is(err, ErrDelivered):
		return apperr.Conflict("delivery already succeeded")
	case errors.Is(err, ErrInvalidURL):
		return apperr.Validation(apperr.FieldError{Field: "url", Message: "must be an http or https URL"})
	case errors.Is(err, ErrInvalidEvents):
		return apperr.Validation(apperr.FieldError{Field: "events", Message: "must be event types such as alert.raised or patterns such as alert.*"})
	}
	return err
}
