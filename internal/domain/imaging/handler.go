package imaging

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:patientId/scans", h.List)
	api.POST("/patients/:patientId/scans", h.Upload)
	api.GET("/scans/:id", h.Get)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), c.Param("patientId"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// Upload accepts multipart/form-data with a "file" part and the scan fields.
func (h *Handler) Upload(c echo.Context) error {
	fields, ferrs := parseUploadFields(c)
	file, err := c.FormFile("file")
	if err != nil {
		ferrs = append(ferrs, apperr.FieldError{Field: "file", Message: "is required"})
	}
	if len(ferrs) > 0 {
		return apperr.Validation(ferrs...)
	}
	if err := c.Validate(fields); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return apperr.BadRequest("unreadable file part")
	}
	defer src.Close()

	scan, err := h.svc.Upload(c.Request().Context(), c.Param("patientId"), fields,
		file.Filename, file.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, scan)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid id")
	}
	scan, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scan)
}

// parseUploadFields reads the text parts of the upload form. Numeric and
// boolean fields arrive as strings.
func parseUploadFields(c echo.Context) (*UploadFields, []apperr.FieldError) {
	f := &UploadFields{
		ScanType: strings.TrimSpace(c.FormValue("scanType")),
		Notes:    c.FormValue("notes"),
	}
	var errs []apperr.FieldError

	if v := strings.TrimSpace(c.FormValue("tumorDetected")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "tumorDetected", Message: "must be true or false"})
		}
		f.TumorDetected = b
	}
	for _, nf := range []struct {
		name string
		dst  **float64
	}{
		{"tumorSize", &f.TumorSize},
		{"malignancyScore", &f.MalignancyScore},
	} {
		v := strings.TrimSpace(c.FormValue(nf.name))
		if v == "" {
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: nf.name, Message: "must be a number"})
			continue
		}
		*nf.dst = &x
	}
	if v := strings.TrimSpace(c.FormValue("tumorLocation")); v != "" {
		f.TumorLocation = &v
	}
	return f, errs
}
