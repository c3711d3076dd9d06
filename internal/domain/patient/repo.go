package patient

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("patient not found")
	ErrDuplicate = errors.New("patient id already exists")
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByPatientID(ctx context.Context, patientID string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, patientID string) error
	List(ctx context.Context, f ListFilter) ([]*Patient, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Cascader removes records that belong to a patient. Services owning
// patient-scoped resources implement it so deletes leave no orphans.
// DeleteByPatient runs inside the delete transaction; the returned
// AfterCommit, if any, runs only once the patient is gone for good.
type Cascader interface {
	DeleteByPatient(ctx context.Context, patientID string) (AfterCommit, error)
}

// AfterCommit releases resources outside the database, such as stored files.
type AfterCommit func(ctx context.Context)
