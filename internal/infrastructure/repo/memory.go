package repo

import (
	"context"
	"sort"
	"sync"

	"drinkshop-backend/internal/domain"
)

// MemoryOrderRepo keeps orders in process. Stored orders are cloned on the
// way in and out so callers never alias repository state.
type MemoryOrderRepo struct {
	mu sync.RWMutex
	m  map[string]*domain.Order
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{m: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[o.ID]; ok {
		return domain.ErrStaleWrite
	}
	o.Version = 1
	r.m[o.ID] = o.Clone()
	return nil
}

func (r *MemoryOrderRepo) Get(_ context.Context, id string) (*domain.Order, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.m[id]
	if !ok {
		return nil, false, nil
	}
	return o.Clone(), true, nil
}

func (r *MemoryOrderRepo) Update(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[o.ID]
	if !ok {
		return domain.NotFound("order")
	}
	if cur.Version != o.Version {
		return domain.ErrStaleWrite
	}
	o.Version++
	r.m[o.ID] = o.Clone()
	return nil
}

func (r *MemoryOrderRepo) List(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range r.m {
		if f.Match(o) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryOrderRepo) GetByRefundID(_ context.Context, refundID string) (*domain.Order, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.m {
		if o.Refund(refundID) != nil {
			return o.Clone(), true, nil
		}
	}
	return nil, false, nil
}

type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byPhone map[string]string
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{byID: make(map[string]*domain.User), byPhone: make(map[string]string)}
}

func (r *MemoryUserRepo) PutUser(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPhone[u.Phone]; ok && id != u.UserID {
		return domain.ErrUserExists
	}
	cp := *u
	r.byID[u.UserID] = &cp
	r.byPhone[u.Phone] = u.UserID
	return nil
}

func (r *MemoryUserRepo) GetUser(_ context.Context, id string) (*domain.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *u
	return &cp, true, nil
}

func (r *MemoryUserRepo) GetUserByPhone(ctx context.Context, phone string) (*domain.User, bool, error) {
	r.mu.RLock()
	id, ok := r.byPhone[phone]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return r.GetUser(ctx, id)
}
