package alert

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("alert not found")

type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id int64) (*Alert, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error)
	List(ctx context.Context, f ListFilter) ([]*Alert, int, error)
	// Acknowledge marks the alert acknowledged if it is not already. It
	// returns the stored alert and whether this call changed it.
	Acknowledge(ctx context.Context, id int64, by string, at time.Time) (*Alert, bool, error)
	DeleteByPatient(ctx context.Context, patientID string) error
	CountUnacknowledged(ctx context.Context) (int, error)
}
