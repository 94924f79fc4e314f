package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neurosense360/console/internal/platform/lock"
)

const (
	DefaultCheckInterval = 5 * time.Minute
	DefaultPassLockTTL   = 2 * time.Minute

	// PassLockKey is the cluster-wide key held for the duration of a pass.
	PassLockKey = "console:alerts:pass"
)

// Passer runs one evaluation pass. *Engine implements it.
type Passer interface {
	CheckAllClinics(ctx context.Context) (PassResult, error)
}

// Scheduler runs evaluation passes on a fixed interval. At most one pass
// runs at a time in this process; with a distributed locker configured, at
// most one runs across replicas.
type Scheduler struct {
	engine   Passer
	interval time.Duration
	locker   lock.Locker
	lockTTL  time.Duration
	metrics  *Metrics
	logger   zerolog.Logger

	passMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(engine Passer, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		lockTTL:  DefaultPassLockTTL,
		logger:   logger.With().Str("component", "alert-scheduler").Logger(),
	}
}

// SetLocker enables cluster-wide pass exclusion under PassLockKey.
func (s *Scheduler) SetLocker(l lock.Locker, ttl time.Duration) {
	s.locker = l
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

func (s *Scheduler) SetMetrics(m *Metrics) {
	s.metrics = m
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start runs one pass immediately and then one per interval until Stop is
// called or ctx is done. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Debug().Msg("alert scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info().Dur("interval", s.interval).Msg("alert scheduler started")
}

// Stop cancels future ticks and waits for an in-flight pass to return.
// Stopping a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("alert scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a pass unless one is already in progress.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.passMu.TryLock() {
		s.metrics.skipped(skipReasonBusy)
		s.logger.Debug().Msg("alert pass still running, tick skipped")
		return
	}
	defer s.passMu.Unlock()

	if _, err := s.pass(ctx); err != nil && !errors.Is(err, ErrPassInProgress) {
		s.logger.Error().Err(err).Msg("alert pass failed")
	}
}

// RunOnce runs a pass now, waiting for any local pass in progress. It
// returns ErrPassInProgress when another replica holds the pass lock.
func (s *Scheduler) RunOnce(ctx context.Context) (PassResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.pass(ctx)
}

func (s *Scheduler) pass(ctx context.Context) (PassResult, error) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, PassLockKey, s.lockTTL)
		if err != nil {
			s.metrics.skipped(skipReasonLockErr)
			return PassResult{}, err
		}
		if !ok {
			s.metrics.skipped(skipReasonRemote)
			s.logger.Debug().Msg("alert pass held by another instance")
			return PassResult{}, ErrPassInProgress
		}
		defer func() {
			// Release on a fresh context so a cancelled pass still frees the key.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.locker.Release(rctx, PassLockKey, token); err != nil {
				s.logger.Warn().Err(err).Msg("release alert pass lock")
			}
		}()
	}

	start := time.Now()
	res, err := s.engine.CheckAllClinics(ctx)
	s.metrics.observePass(time.Since(start), err)
	if err != nil {
		return res, err
	}
	s.logger.Info().
		Int("clinics", res.Clinics).
		Int("created", res.Created).
		Int("merged", res.Merged).
		Int("trials_expired", res.TrialsExpired).
		Int("failed", res.Failed).
		Dur("duration", res.Duration).
		Msg("alert pass complete")
	return res, nil
}
