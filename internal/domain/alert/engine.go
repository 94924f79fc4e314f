package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neurosense360/console/internal/domain/clinic"
)

// ClinicSource is the part of the tenant store the engine depends on.
// clinic.Repository satisfies it.
type ClinicSource interface {
	ListActive(ctx context.Context) ([]*clinic.Clinic, error)
	GetByID(ctx context.Context, id uuid.UUID) (*clinic.Clinic, error)
	ExpireTrial(ctx context.Context, id uuid.UUID) (bool, error)
}

// EngineConfig tunes evaluation and deduplication.
type EngineConfig struct {
	Thresholds    Thresholds
	RecencyWindow time.Duration
}

// PassResult summarizes one evaluation pass.
type PassResult struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Clinics       int           `json:"clinics"`
	Created       int           `json:"created"`
	Merged        int           `json:"merged"`
	TrialsExpired int           `json:"trials_expired"`
	Failed        int           `json:"failed"`
}

func (r *PassResult) add(o PassResult) {
	r.Clinics += o.Clinics
	r.Created += o.Created
	r.Merged += o.Merged
	r.TrialsExpired += o.TrialsExpired
	r.Failed += o.Failed
}

// Engine evaluates clinics, reconciles the resulting alerts and manages
// their lifecycle. mu serializes clinic evaluations and lifecycle mutations.
type Engine struct {
	clinics  ClinicSource
	repo     Repository
	events   EventRepository
	eval     *Evaluator
	dedup    *Deduplicator
	notifier Notifier
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewEngine(clinics ClinicSource, repo Repository, events EventRepository, notifier Notifier, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		clinics:  clinics,
		repo:     repo,
		events:   events,
		eval:     NewEvaluator(cfg.Thresholds),
		dedup:    NewDeduplicator(repo, cfg.RecencyWindow),
		notifier: notifier,
		logger:   logger.With().Str("component", "alert-engine").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) SetMetrics(m *Metrics) {
	e.metrics = m
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// InitializeAlertsTable prepares the alert store. Calling it again is a
// no-op.
func (e *Engine) InitializeAlertsTable(ctx context.Context) error {
	if err := e.repo.Init(ctx); err != nil {
		return fmt.Errorf("initialize alerts: %w", err)
	}
	return nil
}

// CheckAllClinics evaluates every active clinic once. A failure on one
// clinic is logged and counted; the pass moves on to the next clinic. An
// error is returned only when the clinic list itself cannot be read.
func (e *Engine) CheckAllClinics(ctx context.Context) (res PassResult, err error) {
	res.StartedAt = e.clock()
	defer func() {
		res.Duration = e.clock().Sub(res.StartedAt)
	}()

	clinics, err := e.clinics.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("list active clinics: %w", err)
	}

	for _, c := range clinics {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !c.IsActive {
			continue
		}
		r, err := e.checkClinic(ctx, c)
		res.add(r)
		if err != nil {
			res.Failed++
			e.metrics.clinicFailed()
			e.logger.Error().Err(err).Str("clinic_id", c.ID.String()).Msg("clinic alert evaluation failed")
		}
	}
	return res, nil
}

// CheckClinic evaluates a single clinic. Inactive clinics are skipped.
func (e *Engine) CheckClinic(ctx context.Context, clinicID uuid.UUID) (PassResult, error) {
	res := PassResult{StartedAt: e.clock()}
	c, err := e.clinics.GetByID(ctx, clinicID)
	if err != nil {
		return res, fmt.Errorf("get clinic %s: %w", clinicID, err)
	}
	if !c.IsActive {
		return res, nil
	}
	r, err := e.checkClinic(ctx, c)
	res.add(r)
	res.Duration = e.clock().Sub(res.StartedAt)
	return res, err
}

func (e *Engine) checkClinic(ctx context.Context, c *clinic.Clinic) (PassResult, error) {
	type notice struct {
		alert   *Alert
		created bool
	}
	var (
		res     = PassResult{Clinics: 1}
		notices []notice
		errs    []error
	)

	e.mu.Lock()
	now := e.clock()
	ev := e.eval.Evaluate(c, now)
	trialRecorded := false
	for _, cand := range ev.Candidates {
		a, created, err := e.dedup.Reconcile(ctx, cand, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cand.Category == CategoryTrial && cand.Type == TypeCritical {
			trialRecorded = true
		}
		e.metrics.reconciled(a, created)
		if created {
			res.Created++
		} else {
			res.Merged++
		}
		notices = append(notices, notice{alert: a, created: created})
	}
	// A trial is expired only after its critical alert is stored.
	if ev.ExpireTrial && trialRecorded {
		expired, err := e.clinics.ExpireTrial(ctx, c.ID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("expire trial: %w", err))
		case expired:
			res.TrialsExpired++
			e.metrics.trialExpired()
			e.logger.Info().Str("clinic_id", c.ID.String()).Msg("clinic trial expired")
		}
	}
	e.mu.Unlock()

	for _, n := range notices {
		if err := e.notifier.Notify(ctx, n.alert, c, n.created); err != nil {
			e.logger.Warn().Err(err).Str("alert_id", n.alert.ID.String()).Msg("alert notification failed")
		}
	}
	return res, errors.Join(errs...)
}

// Acknowledge marks an alert as seen. Acknowledging an already acknowledged
// alert changes nothing and records no event.
func (e *Engine) Acknowledge(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return e.mutate(ctx, id, EventAlertAcknowledged, func(a *Alert, now time.Time) bool {
		if a.Acknowledged {
			return false
		}
		a.Acknowledged = true
		a.AcknowledgedAt = &now
		return true
	})
}

// Dismiss resolves an alert. Resolution is terminal; dismissing a resolved
// alert changes nothing and records no event.
func (e *Engine) Dismiss(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return e.mutate(ctx, id, EventAlertDismissed, func(a *Alert, now time.Time) bool {
		if !a.IsActive() {
			return false
		}
		a.Status = StatusResolved
		a.ResolvedAt = &now
		return true
	})
}

func (e *Engine) mutate(ctx context.Context, id uuid.UUID, action EventAction, apply func(*Alert, time.Time) bool) (*Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	now := e.clock()
	if !apply(a, now) {
		return a, nil
	}
	a.UpdatedAt = now
	if err := e.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update alert %s: %w", id, err)
	}
	e.metrics.lifecycleAction(action)

	if err := e.events.Append(ctx, NewEvent(a, action, now)); err != nil {
		e.logger.Warn().Err(err).Str("alert_id", id.String()).Str("action", string(action)).Msg("usage event not recorded")
	}
	return a, nil
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return e.repo.GetByID(ctx, id)
}

// ListActive returns active alerts newest first, optionally for one clinic.
func (e *Engine) ListActive(ctx context.Context, clinicID *uuid.UUID) ([]*Alert, error) {
	return e.repo.ListActive(ctx, clinicID)
}

// ListClinicAlerts returns a clinic's alerts newest first.
func (e *Engine) ListClinicAlerts(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Alert, error) {
	return e.repo.ListByClinic(ctx, clinicID, activeOnly)
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.repo.Stats(ctx)
}

// Events returns the clinic's usage event log newest first.
func (e *Engine) Events(ctx context.Context, clinicID uuid.UUID, limit int) ([]*UsageEvent, error) {
	return e.events.ListByClinic(ctx, clinicID, limit)
}
