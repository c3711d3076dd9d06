package imaging

import (
	"context"

	"github.com/quantnex/quantnex/internal/platform/memstore"
)

type memRepo struct {
	table *memstore.Table[Scan, *Scan]
}

func NewMemRepo() Repository {
	return &memRepo{table: memstore.NewTable[Scan, *Scan]()}
}

func (r *memRepo) Create(_ context.Context, s *Scan) error {
	r.table.Insert(s)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*Scan, error) {
	s, ok := r.table.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Scan, int, error) {
	items := memstore.Reverse(r.table.Filter(func(s *Scan) bool { return s.PatientID == patientID }))
	return memstore.Page(items, limit, offset), len(items), nil
}

func (r *memRepo) DeleteByPatient(_ context.Context, patientID string) ([]string, error) {
	var refs []string
	for _, s := range r.table.Filter(func(s *Scan) bool { return s.PatientID == patientID }) {
		if r.table.Delete(s.ID) {
			refs = append(refs, s.FileRef)
		}
	}
	return refs, nil
}

func (r *memRepo) CountTumorDetected(_ context.Context) (int, error) {
	return len(r.table.Filter(func(s *Scan) bool { return s.TumorDetected })), nil
}
