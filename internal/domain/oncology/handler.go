package oncology

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	const p = "/patients/:patientId"

	api.GET(p+"/diagnoses", h.ListDiagnoses)
	api.POST(p+"/diagnoses", h.CreateDiagnosis)
	api.GET(p+"/diagnoses/current", h.CurrentDiagnosis)
	api.POST(p+"/diagnoses/generate", h.GenerateDiagnosis)

	api.GET(p+"/prognoses", h.ListPrognoses)
	api.POST(p+"/prognoses", h.CreatePrognosis)
	api.GET(p+"/prognoses/current", h.CurrentPrognosis)
	api.POST(p+"/prognoses/generate", h.GeneratePrognosis)

	api.GET(p+"/radiation-plans", h.ListRadiationPlans)
	api.POST(p+"/radiation-plans", h.CreateRadiationPlan)
	api.GET(p+"/radiation-plans/current", h.CurrentRadiationPlan)
	api.POST(p+"/radiation-plans/generate", h.GenerateRadiationPlan)

	api.GET(p+"/biomarkers", h.ListBiomarkers)
	api.POST(p+"/biomarkers", h.RecordBiomarker)
}

func listResponse[T any](c echo.Context, fn func(limit, offset int) ([]*T, int, error)) error {
	pg := pagination.FromContext(c)
	items, total, err := fn(pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func respond[T any](c echo.Context, status int, v *T, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(status, v)
}

// -- Diagnosis Handlers --

func (h *Handler) CreateDiagnosis(c echo.Context) error {
	var req DiagnosisRequest
	if err := decodeRequest(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateDiagnosis(c.Request().Context(), c.Param("patientId"), &req)
	return respond(c, http.StatusCreated, d, err)
}

func (h *Handler) GenerateDiagnosis(c echo.Context) error {
	d, err := h.svc.GenerateDiagnosis(c.Request().Context(), c.Param("patientId"))
	return respond(c, http.StatusCreated, d, err)
}

func (h *Handler) CurrentDiagnosis(c echo.Context) error {
	d, err := h.svc.CurrentDiagnosis(c.Request().Context(), c.Param("patientId"))
	return respond(c, http.StatusOK, d, err)
}

func (h *Handler) ListDiagnoses(c echo.Context) error {
	return listResponse(c, func(limit, offset int) ([]*Diagnosis, int, error) {
		return h.svc.ListDiagnoses(c.Request().Context(), c.Param("patientId"), limit, offset)
	})
}

// -- Prognosis Handlers --

func (h *Handler) CreatePrognosis(c echo.Context) error {
	var req PrognosisRequest
	if err := decodeRequest(c, &req); err != nil {
		return err
	}
	p, err := h.svc.CreatePrognosis(c.Request().Context(), c.Param("patientId"), &req)
	return respond(c, http.StatusCreated, p, err)
}

func (h *Handler) GeneratePrognosis(c echo.Context) error {
	p, err := h.svc.GeneratePrognosis(c.Request().Context(), c.Param("patientId"))
	return respond(c, http.StatusCreated, p, err)
}

func (h *Handler) CurrentPrognosis(c echo.Context) error {
	p, err := h.svc.CurrentPrognosis(c.Request().Context(), c.Param("patientId"))
	return respond(c, http.StatusOK, p, err)
}

func (h *Handler) ListPrognoses(c echo.Context) error {
	return listResponse(c, func(limit, offset int) ([]*Prognosis, int, error) {
		return h.svc.ListPrognoses(c.Request().Context(), c.Param("patientId"), limit, offset)
	})
}

// -- Radiation Plan Handlers --

func (h *Handler) CreateRadiationPlan(c echo.Context) error {
	var req RadiationPlanRequest
	if err := decodeRequest(c, &req); err != nil {
		return err
	}
	r, err := h.svc.CreateRadiationPlan(c.Request().Context(), c.Param("patientId"), &req)
	return respond(c, http.StatusCreated, r, err)
}

func (h *Handler) GenerateRadiationPlan(c echo.Context) error {
	r, err := h.svc.GenerateRadiationPlan(c.Request().Context(), c.Param("patientId"))
	return respond(c, http.StatusCreated, r, err)
}

func (h *Handler) CurrentRadiationPlan(c echo.Context) error {
	r, err := h.svc.CurrentRadiationPlan(c.Request().Context(), c.Param("patientId"))
	return respond(c, http.StatusOK, r, err)
}

func (h *Handler) ListRadiationPlans(c echo.Context) error {
	return listResponse(c, func(limit, offset int) ([]*RadiationPlan, int, error) {
		return h.svc.ListRadiationPlans(c.Request().Context(), c.Param("patientId"), limit, offset)
	})
}

// -- Biomarker Handlers --

func (h *Handler) RecordBiomarker(c echo.Context) error {
	var req BiomarkerRequest
	if err := decodeRequest(c, &req); err != nil {
		return err
	}
	b, err := h.svc.RecordBiomarker(c.Request().Context(), c.Param("patientId"), &req)
	return respond(c, http.StatusCreated, b, err)
}

func (h *Handler) ListBiomarkers(c echo.Context) error {
	return listResponse(c, func(limit, offset int) ([]*Biomarker, int, error) {
		return h.svc.ListBiomarkers(c.Request().Context(), c.Param("patientId"), BiomarkerFilter{
			Type:   c.QueryParam("type"),
			Limit:  limit,
			Offset: offset,
		})
	})
}
