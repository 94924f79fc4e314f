package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalid  = errors.New("invalid clinic")
	ErrInactive = errors.New("clinic is inactive")
)

// DemoClinicID identifies the clinic seeded for the demo clinic admin when
// running on the memory store.
var DemoClinicID = uuid.MustParse("6f1c2a7e-0b8d-4c55-9d3a-2e9b1f0a7c11")

type Service struct {
	repo           Repository
	defaultReports int
	trialPeriod    time.Duration
	now            func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:           repo,
		defaultReports: DefaultReportsAllowed,
		trialPeriod:    DefaultTrialPeriod,
		now:            time.Now,
	}
}

// SetDefaultReportsAllowed overrides the quota given to clinics created or
// updated without one.
func (s *Service) SetDefaultReportsAllowed(n int) {
	if n > 0 {
		s.defaultReports = n
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Repository exposes the underlying tenant store.
func (s *Service) Repository() Repository {
	return s.repo
}

func (s *Service) normalize(c *Clinic) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	c.Email = strings.TrimSpace(c.Email)
	if c.ContactPerson == "" {
		c.ContactPerson = c.Name
	}
	if c.ReportsUsed < 0 {
		return fmt.Errorf("%w: reports_used must not be negative", ErrInvalid)
	}
	if c.ReportsAllowed <= 0 {
		c.ReportsAllowed = s.defaultReports
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = StatusTrial
	}
	if !c.SubscriptionStatus.Valid() {
		return fmt.Errorf("%w: unknown subscription_status %q", ErrInvalid, c.SubscriptionStatus)
	}
	return nil
}

func (s *Service) CreateClinic(ctx context.Context, c *Clinic) error {
	if err := s.normalize(c); err != nil {
		return err
	}
	if c.SubscriptionStatus == StatusTrial && c.TrialEndDate == nil {
		end := s.now().UTC().Add(s.trialPeriod)
		c.TrialEndDate = &end
	}
	c.IsActive = true
	return s.repo.Create(ctx, c)
}

func (s *Service) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListClinics(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) UpdateClinic(ctx context.Context, c *Clinic) error {
	if err := s.normalize(c); err != nil {
		return err
	}
	return s.repo.Update(ctx, c)
}

func (s *Service) DeleteClinic(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// ToggleActive flips the clinic's active flag and returns the updated clinic.
func (s *Service) ToggleActive(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.IsActive = !c.IsActive
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordReportUpload counts one uploaded report against the clinic's quota.
// Uploads past the quota are still recorded; the alert engine reports them.
func (s *Service) RecordReportUpload(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrInactive
	}
	return s.repo.AddReportsUsed(ctx, id, 1)
}

// PurchaseReports adds n report credits to the clinic's quota.
func (s *Service) PurchaseReports(ctx context.Context, id uuid.UUID, n int) (*Clinic, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	}
	return s.repo.AddReportsAllowed(ctx, id, n)
}

// ActivateSubscription moves the clinic to a paid subscription and
// reactivates it.
func (s *Service) ActivateSubscription(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.SubscriptionStatus = StatusActive
	c.IsActive = true
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SeedDemo creates the demo clinic if it does not exist yet.
func (s *Service) SeedDemo(ctx context.Context) (*Clinic, error) {
	if c, err := s.repo.GetByID(ctx, DemoClinicID); err == nil {
		return c, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c := &Clinic{
		ID:    DemoClinicID,
		Name:  "Demo Clinic",
		Email: "clinic@demo.com",
	}
	if err := s.CreateClinic(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
