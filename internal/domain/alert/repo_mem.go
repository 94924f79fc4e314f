package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps alerts in process memory. Returned alerts are
// copies.
type MemoryRepository struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	alerts map[uuid.UUID]*Alert
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{alerts: make(map[uuid.UUID]*Alert)}
}

func (r *MemoryRepository) Init(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alerts == nil {
		r.alerts = make(map[uuid.UUID]*Alert)
	}
	return nil
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(ctx)
}

func (r *MemoryRepository) Create(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.alerts[a.ID] = a.clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	r.alerts[a.ID] = a.clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepository) FindRecentActive(_ context.Context, key string, since time.Time) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Alert
	for _, a := range r.alerts {
		if a.Key != key || !a.IsActive() || !a.CreatedAt.After(since) {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			found = a
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.clone(), nil
}

func (r *MemoryRepository) ListActive(_ context.Context, clinicID *uuid.UUID) ([]*Alert, error) {
	return r.filter(func(a *Alert) bool {
		return a.IsActive() && (clinicID == nil || a.ClinicID == *clinicID)
	}), nil
}

func (r *MemoryRepository) ListByClinic(_ context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Alert, error) {
	return r.filter(func(a *Alert) bool {
		return a.ClinicID == clinicID && (!activeOnly || a.IsActive())
	}), nil
}

func (r *MemoryRepository) Stats(context.Context) (Stats, error) {
	return ComputeStats(r.filter(func(*Alert) bool { return true })), nil
}

// filter returns matching alerts newest first.
func (r *MemoryRepository) filter(keep func(*Alert) bool) []*Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Alert, 0)
	for _, a := range r.alerts {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MemoryEventRepository is the in-process usage event log.
type MemoryEventRepository struct {
	mu     sync.RWMutex
	events []*UsageEvent
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{}
}

func (r *MemoryEventRepository) Append(_ context.Context, ev *UsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

// ListByClinic returns the clinic's events newest first. A limit of zero or
// less returns all of them.
func (r *MemoryEventRepository) ListByClinic(_ context.Context, clinicID uuid.UUID, limit int) ([]*UsageEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*UsageEvent, 0)
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].ClinicID != clinicID {
			continue
		}
		cp := *r.events[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
