package patient

import (
	"context"
	"strings"

	"github.com/quantnex/quantnex/internal/platform/memstore"
)

type memRepo struct {
	table *memstore.Table[Patient, *Patient]
}

func NewMemRepo() Repository {
	return &memRepo{table: memstore.NewTable[Patient, *Patient]()}
}

func (r *memRepo) Create(_ context.Context, p *Patient) error {
	if !r.table.InsertIf(p, func(existing *Patient) bool { return existing.PatientID != p.PatientID }) {
		return ErrDuplicate
	}
	return nil
}

func (r *memRepo) GetByPatientID(_ context.Context, patientID string) (*Patient, error) {
	p, ok := r.table.Find(func(p *Patient) bool { return p.PatientID == patientID })
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *memRepo) Update(_ context.Context, p *Patient) error {
	if !r.table.Replace(p) {
		return ErrNotFound
	}
	return nil
}

func (r *memRepo) Delete(_ context.Context, patientID string) error {
	p, ok := r.table.Find(func(p *Patient) bool { return p.PatientID == patientID })
	if !ok || !r.table.Delete(p.ID) {
		return ErrNotFound
	}
	return nil
}

func (r *memRepo) List(_ context.Context, f ListFilter) ([]*Patient, int, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	items := r.table.Filter(func(p *Patient) bool {
		if f.Status != "" && p.Status != f.Status {
			return false
		}
		if search == "" {
			return true
		}
		return strings.Contains(strings.ToLower(p.Name), search) ||
			strings.Contains(strings.ToLower(p.PatientID), search) ||
			strings.Contains(strings.ToLower(p.CancerType), search)
	})
	memstore.Reverse(items)
	return memstore.Page(items, f.Limit, f.Offset), len(items), nil
}

func (r *memRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(ValidStatuses))
	for status := range ValidStatuses {
		counts[status] = 0
	}
	for _, p := range r.table.Filter(nil) {
		counts[p.Status]++
	}
	return counts, nil
}
