package patient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/metrics"
	"github.com/quantnex/quantnex/internal/platform/middleware"
)

// TxFunc runs fn in a unit of work. The memory backend runs fn directly.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	repo      Repository
	cascaders []Cascader
	tx        TxFunc
	logger    zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: noTx, logger: logger.With().Str("component", "patient").Logger()}
}

// SetTx installs the transaction runner used for cascading deletes.
func (s *Service) SetTx(tx TxFunc) {
	if tx == nil {
		tx = noTx
	}
	s.tx = tx
}

// OnDelete registers services whose records are removed with a patient.
func (s *Service) OnDelete(c ...Cascader) {
	s.cascaders = append(s.cascaders, c...)
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Patient, error) {
	if err := validHistory(req.TreatmentHistory); err != nil {
		return nil, err
	}
	p := &Patient{
		PatientID:        middleware.SanitizeString(req.PatientID),
		Name:             middleware.SanitizeString(req.Name),
		Gender:           req.Gender,
		CancerType:       middleware.SanitizeString(req.CancerType),
		Stage:            middleware.SanitizeString(req.Stage),
		Status:           req.Status,
		TreatmentHistory: req.TreatmentHistory,
		CreatedBy:        auth.ActorFromContext(ctx),
	}
	if req.Age != nil {
		p.Age = *req.Age
	}
	if p.Status == "" {
		p.Status = "active"
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("patient " + p.PatientID + " already exists")
		}
		return nil, err
	}
	metrics.RecordPatientCreated()
	s.logger.Info().Str("patient_id", p.PatientID).Str("actor", p.CreatedBy).Msg("patient created")
	return p, nil
}

// Get returns the patient or a 404 AppError.
func (s *Service) Get(ctx context.Context, patientID string) (*Patient, error) {
	p, err := s.repo.GetByPatientID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("patient")
	}
	return p, err
}

func (s *Service) Update(ctx context.Context, patientID string, req *UpdateRequest) (*Patient, error) {
	if err := validHistory(req.TreatmentHistory); err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		p.Name = middleware.SanitizeString(*req.Name)
	}
	if req.Age != nil {
		p.Age = *req.Age
	}
	if req.Gender != nil {
		p.Gender = *req.Gender
	}
	if req.CancerType != nil {
		p.CancerType = middleware.SanitizeString(*req.CancerType)
	}
	if req.Stage != nil {
		p.Stage = middleware.SanitizeString(*req.Stage)
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.TreatmentHistory != nil {
		p.TreatmentHistory = req.TreatmentHistory
	}
	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("patient")
		}
		return nil, err
	}
	return p, nil
}

// Delete removes the patient and every record that references it.
func (s *Service) Delete(ctx context.Context, patientID string) error {
	if _, err := s.Get(ctx, patientID); err != nil {
		return err
	}
	var after []AfterCommit
	err := s.tx(ctx, func(ctx context.Context) error {
		after = after[:0]
		for _, c := range s.cascaders {
			fn, err := c.DeleteByPatient(ctx, patientID)
			if err != nil {
				return err
			}
			if fn != nil {
				after = append(after, fn)
			}
		}
		return s.repo.Delete(ctx, patientID)
	})
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("patient")
	}
	if err != nil {
		return err
	}
	for _, fn := range after {
		fn(ctx)
	}
	s.logger.Info().Str("patient_id", patientID).Str("actor", auth.ActorFromContext(ctx)).Msg("patient deleted")
	return nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}

func validHistory(raw json.RawMessage) error {
	if len(raw) > 0 && !json.Valid(raw) {
		return apperr.Validation(apperr.FieldError{Field: "treatmentHistory", Message: "must be valid JSON"})
	}
	return nil
}
