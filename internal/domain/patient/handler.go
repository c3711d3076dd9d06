package patient

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/validation"
	"github.com/quantnex/quantnex/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.List)
	api.POST("/patients", h.Create)
	api.GET("/patients/:patientId", h.Get)
	api.PATCH("/patients/:patientId", h.Update)
	api.DELETE("/patients/:patientId", h.Delete, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := strings.TrimSpace(c.QueryParam("status"))
	if status != "" && !ValidStatuses[status] {
		return apperr.Validation(apperr.FieldError{Field: "status", Message: "must be one of: active, remission, critical, inactive"})
	}
	items, total, err := h.svc.List(c.Request().Context(), ListFilter{
		Status: status,
		Search: c.QueryParam("search"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Create(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	var req UpdateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Update(c.Request().Context(), c.Param("patientId"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("patientId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
