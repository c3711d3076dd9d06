package alert

import (
	"context"
	"time"

	"github.com/quantnex/quantnex/internal/platform/memstore"
)

type memRepo struct {
	table *memstore.Table[Alert, *Alert]
}

func NewMemRepo() Repository {
	return &memRepo{table: memstore.NewTable[Alert, *Alert]()}
}

func (r *memRepo) Create(_ context.Context, a *Alert) error {
	r.table.Insert(a)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*Alert, error) {
	a, ok := r.table.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	items := memstore.Reverse(r.table.Filter(func(a *Alert) bool { return a.PatientID == patientID }))
	return memstore.Page(items, limit, offset), len(items), nil
}

func (r *memRepo) List(_ context.Context, f ListFilter) ([]*Alert, int, error) {
	items := memstore.Reverse(r.table.Filter(func(a *Alert) bool {
		if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
			return false
		}
		return f.Type == "" || a.Type == f.Type
	}))
	return memstore.Page(items, f.Limit, f.Offset), len(items), nil
}

func (r *memRepo) Acknowledge(_ context.Context, id int64, by string, at time.Time) (*Alert, bool, error) {
	changed := false
	a, ok := r.table.Modify(id, func(a *Alert) bool {
		if a.Acknowledged {
			return false
		}
		a.Acknowledged = true
		a.AcknowledgedAt = &at
		a.AcknowledgedBy = &by
		changed = true
		return true
	})
	if !ok {
		return nil, false, ErrNotFound
	}
	return a, changed, nil
}

func (r *memRepo) DeleteByPatient(_ context.Context, patientID string) error {
	for _, a := range r.table.Filter(func(a *Alert) bool { return a.PatientID == patientID }) {
		r.table.Delete(a.ID)
	}
	return nil
}

func (r *memRepo) CountUnacknowledged(_ context.Context) (int, error) {
	return len(r.table.Filter(func(a *Alert) bool { return !a.Acknowledged })), nil
}
