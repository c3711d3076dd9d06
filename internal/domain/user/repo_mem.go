package user

import (
	"context"
	"sync"

	"github.com/quantnex/quantnex/internal/platform/memstore"
)

type memRepo struct {
	// mu serialises uniqueness checks on Update; Create relies on InsertIf.
	mu    sync.Mutex
	table *memstore.Table[User, *User]
}

func NewMemRepo() Repository {
	return &memRepo{table: memstore.NewTable[User, *User]()}
}

func (r *memRepo) Create(_ context.Context, u *User) error {
	ok := r.table.InsertIf(u, func(existing *User) bool {
		return existing.Username != u.Username && existing.Email != u.Email
	})
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*User, error) {
	u, ok := r.table.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *memRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	u, ok := r.table.Find(func(u *User) bool { return u.Username == username })
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	u, ok := r.table.Find(func(u *User) bool { return u.Email == email })
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *memRepo) Update(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.table.Find(func(o *User) bool { return o.ID != u.ID && o.Email == u.Email }); taken {
		return ErrDuplicate
	}
	if !r.table.Replace(u) {
		return ErrNotFound
	}
	return nil
}

func (r *memRepo) List(_ context.Context, limit, offset int) ([]*User, int, error) {
	all := r.table.Filter(nil)
	return memstore.Page(all, limit, offset), len(all), nil
}
