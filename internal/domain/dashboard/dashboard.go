// Package dashboard serves the aggregate counts shown on the clinician
// dashboard landing page.
package dashboard

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

type PatientCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type AlertCounter interface {
	CountUnacknowledged(ctx context.Context) (int, error)
}

type ScanCounter interface {
	CountTumorDetected(ctx context.Context) (int, error)
}

type Summary struct {
	TotalPatients        int            `json:"totalPatients"`
	PatientsByStatus     map[string]int `json:"patientsByStatus"`
	UnacknowledgedAlerts int            `json:"unacknowledgedAlerts"`
	ScansWithTumor       int            `json:"scansWithTumor"`
}

type Service struct {
	patients PatientCounter
	alerts   AlertCounter
	scans    ScanCounter
}

func NewService(patients PatientCounter, alerts AlertCounter, scans ScanCounter) *Service {
	return &Service{patients: patients, alerts: alerts, scans: scans}
}

// Summary counts sequentially: in postgres mode all three share the
// request's tenant connection.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	byStatus, err := s.patients.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := &Summary{PatientsByStatus: byStatus}
	for _, n := range byStatus {
		out.TotalPatients += n
	}
	if out.UnacknowledgedAlerts, err = s.alerts.CountUnacknowledged(ctx); err != nil {
		return nil, err
	}
	if out.ScansWithTumor, err = s.scans.CountTumorDetected(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard/summary", h.Summary)
}

func (h *Handler) Summary(c echo.Context) error {
	sum, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
