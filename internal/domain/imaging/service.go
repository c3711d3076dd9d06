package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/domain/patient"
	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/blobstore"
	"github.com/quantnex/quantnex/internal/platform/metrics"
)

// PatientLookup resolves a public patient id, returning a 404 AppError when
// the patient does not exist.
type PatientLookup interface {
	Get(ctx context.Context, patientID string) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	blobs    blobstore.BlobStore
	patients PatientLookup
	logger   zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.BlobStore, patients PatientLookup, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		blobs:    blobs,
		patients: patients,
		logger:   logger.With().Str("component", "imaging").Logger(),
	}
}

// Upload stores the file and records the scan. A failed record insert
// removes the stored blob again.
func (s *Service) Upload(ctx context.Context, patientID string, f *UploadFields, fileName, contentType string, content io.Reader) (*Scan, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	ct, err := blobstore.ValidateUpload(fileName, contentType)
	if err != nil {
		return nil, uploadError(err)
	}

	meta, err := s.blobs.Put(ctx, fileName, ct, content)
	if err != nil {
		return nil, uploadError(err)
	}

	scan := &Scan{
		PatientID:       patientID,
		ScanType:        f.ScanType,
		FileName:        meta.FileName,
		FileRef:         meta.Key,
		FileURL:         meta.URL,
		ContentType:     meta.ContentType,
		Size:            meta.Size,
		SHA256:          meta.SHA256,
		TumorDetected:   f.TumorDetected,
		TumorSize:       f.TumorSize,
		TumorLocation:   f.TumorLocation,
		MalignancyScore: f.MalignancyScore,
		Notes:           f.Notes,
		UploadedBy:      auth.ActorFromContext(ctx),
	}
	if err := s.repo.Create(ctx, scan); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), meta.Key); derr != nil {
			s.logger.Error().Err(derr).Str("file_ref", meta.Key).Msg("failed to remove orphaned blob")
		}
		return nil, err
	}
	metrics.RecordScanUploaded(scan.ScanType)
	s.logger.Info().
		Str("patient_id", patientID).
		Int64("scan_id", scan.ID).
		Str("scan_type", scan.ScanType).
		Int64("size", scan.Size).
		Str("backend", s.blobs.Backend()).
		Msg("scan uploaded")
	return scan, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Scan, error) {
	scan, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("scan")
	}
	return scan, err
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Scan, int, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Latest returns the most recent scan of a patient or nil.
func (s *Service) Latest(ctx context.Context, patientID string) (*Scan, error) {
	items, _, err := s.repo.ListByPatient(ctx, patientID, 1, 0)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (s *Service) CountTumorDetected(ctx context.Context) (int, error) {
	return s.repo.CountTumorDetected(ctx)
}

// DeleteByPatient implements patient.Cascader. The scan files are removed
// after commit, best effort; the records are authoritative.
func (s *Service) DeleteByPatient(ctx context.Context, patientID string) (patient.AfterCommit, error) {
	refs, err := s.repo.DeleteByPatient(ctx, patientID)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	return func(ctx context.Context) {
		for _, ref := range refs {
			if err := s.blobs.Delete(ctx, ref); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
				s.logger.Warn().Err(err).Str("file_ref", ref).Msg("failed to delete scan file")
			}
		}
	}, nil
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrMissingFileName):
		return apperr.Validation(apperr.FieldError{Field: "file", Message: "is required"})
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return apperr.Validation(apperr.FieldError{Field: "file", Message: "must be a DICOM, NIfTI, PNG, JPEG, PDF or gzip file"})
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return &apperr.AppError{
			Status:  http.StatusRequestEntityTooLarge,
			Code:    "PAYLOAD_TOO_LARGE",
			Message: "file exceeds the upload size limit",
			Err:     err,
		}
	}
	return apperr.Internal(fmt.Errorf("store scan file: %w", err))
}
