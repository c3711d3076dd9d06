// Package memstore provides a mutex-guarded, in-process keyed table used by
// the memory persistence backend. Tables assign monotonically increasing
// int64 identifiers and maintain created/updated timestamps. Writes are
// last-write-wins; there is no optimistic concurrency control.
package memstore

import (
	"sort"
	"sync"
	"time"
)

// Record is implemented by pointer types stored in a Table.
type Record interface {
	Key() int64
	// Stamp assigns the identifier and creation time of a new record.
	Stamp(id int64, now time.Time)
	// Touch records a modification time.
	Touch(now time.Time)
}

// Table is an in-memory keyed collection of T. PT is *T.
type Table[T any, PT interface {
	*T
	Record
}] struct {
	mu   sync.RWMutex
	seq  int64
	rows map[int64]T
	now  func() time.Time
}

// NewTable returns an empty table using the wall clock in UTC.
func NewTable[T any, PT interface {
	*T
	Record
}]() *Table[T, PT] {
	return &Table[T, PT]{
		rows: make(map[int64]T),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Intended for tests.
func (t *Table[T, PT]) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Insert stamps v with the next identifier and stores a copy of it.
func (t *Table[T, PT]) Insert(v PT) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	v.Stamp(t.seq, t.now())
	t.rows[t.seq] = *v
}

// InsertIf stamps and stores v only when ok returns true for the current
// contents, evaluated under the write lock. Used for uniqueness checks.
func (t *Table[T, PT]) InsertIf(v PT, ok func(existing PT) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.rows {
		row := t.rows[id]
		if !ok(PT(&row)) {
			return false
		}
	}
	t.seq++
	v.Stamp(t.seq, t.now())
	t.rows[t.seq] = *v
	return true
}

// Get returns a copy of the record with the given id.
func (t *Table[T, PT]) Get(id int64) (PT, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	return PT(&row), true
}

// Replace overwrites an existing record and refreshes its update time.
// It reports false when no record with v's key exists.
func (t *Table[T, PT]) Replace(v PT) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[v.Key()]; !ok {
		return false
	}
	v.Touch(t.now())
	t.rows[v.Key()] = *v
	return true
}

// Modify applies fn to the stored record under the write lock. When fn
// returns true the record is touched and saved. The final state is returned.
func (t *Table[T, PT]) Modify(id int64, fn func(PT) bool) (PT, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	p := PT(&row)
	if fn(p) {
		p.Touch(t.now())
		t.rows[id] = row
	}
	out := row
	return PT(&out), true
}

// Delete removes the record and reports whether it existed.
func (t *Table[T, PT]) Delete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	return true
}

// Find returns the first record, in key order, matching pred.
func (t *Table[T, PT]) Find(pred func(PT) bool) (PT, bool) {
	items := t.Filter(pred)
	if len(items) == 0 {
		return nil, false
	}
	return items[0], true
}

// Filter returns copies of all matching records ordered by ascending key.
func (t *Table[T, PT]) Filter(pred func(PT) bool) []PT {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PT, 0)
	for id := range t.rows {
		row := t.rows[id]
		p := PT(&row)
		if pred == nil || pred(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of stored records.
func (t *Table[T, PT]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Page slices items for limit/offset pagination.
func Page[P any](items []P, limit, offset int) []P {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []P{}
	}
	end := len(items)
	if limit > 0 && limit < end-offset {
		end = offset + limit
	}
	return items[offset:end]
}

// Reverse reverses items in place and returns them, turning key order into
// newest-first order.
func Reverse[P any](items []P) []P {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}
