package alert

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
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
	api.GET("/patients/:patientId/alerts", h.ListByPatient)
	api.POST("/patients/:patientId/alerts", h.Create)
	api.GET("/alerts", h.List)
	api.PATCH("/alerts/:id/acknowledge", h.Acknowledge)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Create(c.Request().Context(), c.Param("patientId"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), c.Param("patientId"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("acknowledged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation(apperr.FieldError{Field: "acknowledged", Message: "must be true or false"})
		}
		f.Acknowledged = &b
	}
	if v := c.QueryParam("type"); v != "" {
		switch v {
		case TypeInfo, TypeWarning, TypeCritical:
			f.Type = v
		default:
			return apperr.Validation(apperr.FieldError{Field: "type", Message: "must be one of: info, warning, critical"})
		}
	}
	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperr.Validation(apperr.FieldError{Field: "id", Message: "must be an integer"})
	}
	a, err := h.svc.Acknowledge(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
