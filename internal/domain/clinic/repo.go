package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("clinic not found")

// Repository defines the persistence interface for clinics. It is the
// tenant store consumed by the alert engine.
type Repository interface {
	Create(ctx context.Context, c *Clinic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	Update(ctx context.Context, c *Clinic) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Clinic, int, error)
	ListActive(ctx context.Context) ([]*Clinic, error)

	// ExpireTrial moves a clinic still in trial to expired and deactivates
	// it. It reports whether a transition happened.
	ExpireTrial(ctx context.Context, id uuid.UUID) (bool, error)

	AddReportsUsed(ctx context.Context, id uuid.UUID, n int) (*Clinic, error)
	AddReportsAllowed(ctx context.Context, id uuid.UUID, n int) (*Clinic, error)
}
