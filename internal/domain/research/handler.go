package research

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/memstore"
	"github.com/quantnex/quantnex/internal/platform/validation"
	"github.com/quantnex/quantnex/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the training routes. Only researchers (and
// admins) may use them.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	researcher := auth.RequireRole(auth.RoleResearcher)
	api.POST("/research/training-jobs", h.Submit, researcher)
	api.GET("/research/training-jobs", h.List, researcher)
	api.GET("/research/training-jobs/:id", h.Get, researcher)
	api.DELETE("/research/training-jobs/:id", h.Cancel, researcher)
}

func (h *Handler) Submit(c echo.Context) error {
	var req TrainingRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	j, err := h.svc.Submit(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, j)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	all := h.svc.List()
	return c.JSON(http.StatusOK, pagination.NewResponse(memstore.Page(all, pg.Limit, pg.Offset), len(all), pg))
}

func (h *Handler) Get(c echo.Context) error {
	j, err := h.svc.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j)
}

func (h *Handler) Cancel(c echo.Context) error {
	j, err := h.svc.Cancel(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j)
}
