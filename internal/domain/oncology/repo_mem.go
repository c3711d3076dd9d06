package oncology

import (
	"context"
	"sort"

	"github.com/quantnex/quantnex/internal/platform/memstore"
)

type patientRecord interface {
	memstore.Record
	patient() string
}

type memHistory[T any, PT interface {
	*T
	patientRecord
}] struct {
	table *memstore.Table[T, PT]
}

func newMemHistory[T any, PT interface {
	*T
	patientRecord
}]() *memHistory[T, PT] {
	return &memHistory[T, PT]{table: memstore.NewTable[T, PT]()}
}

func (m *memHistory[T, PT]) Create(_ context.Context, v PT) error {
	m.table.Insert(v)
	return nil
}

func (m *memHistory[T, PT]) byPatient(patientID string) []PT {
	return memstore.Reverse(m.table.Filter(func(v PT) bool { return v.patient() == patientID }))
}

func (m *memHistory[T, PT]) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]PT, int, error) {
	items := m.byPatient(patientID)
	return memstore.Page(items, limit, offset), len(items), nil
}

func (m *memHistory[T, PT]) Latest(_ context.Context, patientID string) (PT, error) {
	items := m.byPatient(patientID)
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (m *memHistory[T, PT]) DeleteByPatient(_ context.Context, patientID string) error {
	for _, v := range m.table.Filter(func(v PT) bool { return v.patient() == patientID }) {
		m.table.Delete(v.Key())
	}
	return nil
}

type memBiomarkerRepo struct {
	*memHistory[Biomarker, *Biomarker]
}

// readings returns matching readings newest first by measurement time, then
// by insertion order.
func (r memBiomarkerRepo) readings(patientID, biomarkerType string) []*Biomarker {
	items := r.table.Filter(func(b *Biomarker) bool {
		return b.PatientID == patientID && (biomarkerType == "" || b.Type == biomarkerType)
	})
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].MeasuredAt.Equal(items[j].MeasuredAt) {
			return items[i].MeasuredAt.After(items[j].MeasuredAt)
		}
		return items[i].ID > items[j].ID
	})
	return items
}

func (r memBiomarkerRepo) ListByPatient(_ context.Context, patientID string, f BiomarkerFilter) ([]*Biomarker, int, error) {
	items := r.readings(patientID, f.Type)
	return memstore.Page(items, f.Limit, f.Offset), len(items), nil
}

func (r memBiomarkerRepo) Latest(_ context.Context, patientID, biomarkerType string) (*Biomarker, error) {
	items := r.readings(patientID, biomarkerType)
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (r memBiomarkerRepo) LatestPerType(_ context.Context, patientID string) ([]*Biomarker, error) {
	seen := make(map[string]bool)
	out := make([]*Biomarker, 0)
	for _, b := range r.readings(patientID, "") {
		if !seen[b.Type] {
			seen[b.Type] = true
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func NewMemRepositories() Repositories {
	return Repositories{
		Diagnoses:      newMemHistory[Diagnosis, *Diagnosis](),
		Prognoses:      newMemHistory[Prognosis, *Prognosis](),
		RadiationPlans: newMemHistory[RadiationPlan, *RadiationPlan](),
		Biomarkers:     memBiomarkerRepo{newMemHistory[Biomarker, *Biomarker]()},
	}
}
