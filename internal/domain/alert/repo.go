package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for alerts.
type Repository interface {
	// Init prepares the backing store. It is safe to call repeatedly.
	Init(ctx context.Context) error

	Create(ctx context.Context, a *Alert) error
	Update(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)

	// FindRecentActive returns the newest active alert with the given key
	// created strictly after since, or ErrNotFound.
	FindRecentActive(ctx context.Context, key string, since time.Time) (*Alert, error)

	// ListActive returns active alerts newest first, across all clinics when
	// clinicID is nil.
	ListActive(ctx context.Context, clinicID *uuid.UUID) ([]*Alert, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Alert, error)
	Stats(ctx context.Context) (Stats, error)

	// WithinTx runs fn so that lookups and writes made through ctx are
	// atomic with respect to other callers.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventRepository stores the append-only usage event log.
type EventRepository interface {
	Append(ctx context.Context, ev *UsageEvent) error
	ListByClinic(ctx context.Context, clinicID uuid.UUID, limit int) ([]*UsageEvent, error)
}
