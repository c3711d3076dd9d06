package alert

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/domain/patient"
	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/metrics"
	"github.com/quantnex/quantnex/internal/platform/middleware"
	"github.com/quantnex/quantnex/internal/platform/websocket"
)

// Origins label who raised an alert in metrics.
const (
	OriginManual    = "manual"
	OriginBiomarker = "biomarker"
)

// Stream event types.
const (
	EventRaised       = "alert.raised"
	EventAcknowledged = "alert.acknowledged"
)

// Publisher pushes alert events to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, e websocket.Event) error
}

type PatientLookup interface {
	Get(ctx context.Context, patientID string) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientLookup
	logger   zerolog.Logger
	now      func() time.Time

	publishers []Publisher
}

func NewService(repo Repository, patients PatientLookup, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		logger:   logger.With().Str("component", "alert").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PublishTo streams raised and acknowledged alerts to every publisher.
func (s *Service) PublishTo(ps ...Publisher) {
	s.publishers = append(s.publishers, ps...)
}

func (s *Service) Create(ctx context.Context, patientID string, req *CreateRequest) (*Alert, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	return s.raise(ctx, patientID, req.Type, req.Message, req.Details, OriginManual)
}

// Raise records a system-generated alert for a patient the caller has
// already resolved.
func (s *Service) Raise(ctx context.Context, patientID, alertType, message, details string) (*Alert, error) {
	return s.raise(ctx, patientID, alertType, message, details, OriginBiomarker)
}

func (s *Service) raise(ctx context.Context, patientID, alertType, message, details, origin string) (*Alert, error) {
	a := &Alert{
		PatientID: patientID,
		Type:      alertType,
		Message:   middleware.SanitizeString(strings.TrimSpace(message)),
		Details:   middleware.SanitizeString(strings.TrimSpace(details)),
	}
	if a.Message == "" {
		return nil, apperr.Validation(apperr.FieldError{Field: "message", Message: "is required"})
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	metrics.RecordAlertRaised(a.Type, origin)
	s.logger.Info().
		Int64("alert_id", a.ID).
		Str("patient_id", patientID).
		Str("type", a.Type).
		Str("origin", origin).
		Msg("alert raised")
	s.publish(ctx, EventRaised, a)
	return a, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Alert, int, error) {
	return s.repo.List(ctx, f)
}

// Acknowledge is idempotent: acknowledging twice keeps the first time and
// actor.
func (s *Service) Acknowledge(ctx context.Context, id int64) (*Alert, error) {
	a, changed, err := s.repo.Acknowledge(ctx, id, auth.ActorFromContext(ctx), s.now())
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("alert")
	}
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.RecordAlertAcknowledged()
		s.logger.Info().Int64("alert_id", id).Str("by", *a.AcknowledgedBy).Msg("alert acknowledged")
		s.publish(ctx, EventAcknowledged, a)
	}
	return a, nil
}

func (s *Service) CountUnacknowledged(ctx context.Context) (int, error) {
	return s.repo.CountUnacknowledged(ctx)
}

// DeleteByPatient implements patient.Cascader.
func (s *Service) DeleteByPatient(ctx context.Context, patientID string) (patient.AfterCommit, error) {
	return nil, s.repo.DeleteByPatient(ctx, patientID)
}

// publish never fails the caller; the stored alert is authoritative.
func (s *Service) publish(ctx context.Context, eventType string, a *Alert) {
	if len(s.publishers) == 0 {
		return
	}
	data, err := json.Marshal(a)
	if err != nil {
		s.logger.Error().Err(err).Int64("alert_id", a.ID).Msg("encode alert event")
		return
	}
	e := websocket.Event{
		Type:      eventType,
		Topic:     websocket.TopicAlerts,
		PatientID: a.PatientID,
		Timestamp: s.now(),
		Data:      data,
	}
	for _, p := range s.publishers {
		if err := p.Publish(ctx, e); err != nil {
			s.logger.Warn().Err(err).Int64("alert_id", a.ID).Str("type", eventType).Msg("failed to publish alert event")
		}
	}
}
