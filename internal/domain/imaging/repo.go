package imaging

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("scan not found")

type Repository interface {
	Create(ctx context.Context, s *Scan) error
	GetByID(ctx context.Context, id int64) (*Scan, error)
	// ListByPatient returns scans newest first.
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Scan, int, error)
	// DeleteByPatient removes the patient's scans and returns their blob keys.
	DeleteByPatient(ctx context.Context, patientID string) ([]string, error)
	CountTumorDetected(ctx context.Context) (int, error)
}
