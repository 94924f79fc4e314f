package clinic

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurosense360/console/pkg/pagination"
)

// MemoryRepository keeps clinics in process memory. It backs the development
// store driver and tests. Returned clinics are copies.
type MemoryRepository struct {
	mu      sync.RWMutex
	clinics map[uuid.UUID]*Clinic
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clinics: make(map[uuid.UUID]*Clinic),
		now:     time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, c *Clinic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := r.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.clinics[c.ID] = c.clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, c *Clinic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.clinics[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = r.now().UTC()
	r.clinics[c.ID] = c.clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clinics[id]; !ok {
		return ErrNotFound
	}
	delete(r.clinics, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]*Clinic, int, error) {
	r.mu.RLock()
	all := make([]*Clinic, 0, len(r.clinics))
	for _, c := range r.clinics {
		all = append(all, c.clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	return pagination.Slice(all, limit, offset), len(all), nil
}

func (r *MemoryRepository) ListActive(_ context.Context) ([]*Clinic, error) {
	r.mu.RLock()
	var active []*Clinic
	for _, c := range r.clinics {
		if c.IsActive {
			active = append(active, c.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].ID.String() < active[j].ID.String()
	})
	return active, nil
}

func (r *MemoryRepository) ExpireTrial(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clinics[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.SubscriptionStatus != StatusTrial {
		return false, nil
	}
	c.SubscriptionStatus = StatusExpired
	c.IsActive = false
	c.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) AddReportsUsed(_ context.Context, id uuid.UUID, n int) (*Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.ReportsUsed += n
	if c.ReportsUsed < 0 {
		c.ReportsUsed = 0
	}
	c.UpdatedAt = r.now().UTC()
	return c.clone(), nil
}

func (r *MemoryRepository) AddReportsAllowed(_ context.Context, id uuid.UUID, n int) (*Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.ReportsAllowed += n
	c.UpdatedAt = r.now().UTC()
	return c.clone(), nil
}
