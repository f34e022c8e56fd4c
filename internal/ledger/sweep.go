package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chachabrian/campusride-backend/internal/observability"
	"github.com/chachabrian/campusride-backend/pkg/logger"
)

const (
	DefaultSweepInterval  = time.Hour
	DefaultSweepGrace     = 30 * time.Minute
	DefaultSweepRetention = 24 * time.Hour

	sweepLockKey = "ledger:sweep"
)

type SweepConfig struct {
	// Interval is the minimum time between two sweeps.
	Interval time.Duration
	// Grace is how long after departure an open ride is kept before it expires.
	Grace time.Duration
	// Retention is how long an expired ride is kept before it is deleted.
	Retention time.Duration
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.Grace <= 0 {
		c.Grace = DefaultSweepGrace
	}
	if c.Retention <= 0 {
		c.Retention = DefaultSweepRetention
	}
	return c
}

// Locker guards the sweep across processes. TryLock returns false if another holder
// owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type SweepResult struct {
	RanAt   time.Time    `json:"ranAt"`
	Expired int64        `json:"expired"`
	Deleted DeleteCounts `json:"deleted"`
}

// Sweeper expires departed rides and deletes long-expired ones.
type Sweeper struct {
	store  SweepStore
	cfg    SweepConfig
	clock  Clock
	locker Locker
	log    *logger.Logger

	mu      sync.Mutex
	lastRun time.Time
}

func NewSweeper(store SweepStore, cfg SweepConfig, clock Clock, locker Locker, log *logger.Logger) *Sweeper {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Sweeper{
		store:  store,
		cfg:    cfg.withDefaults(),
		clock:  clock,
		locker: locker,
		log:    log.WithField("component", "sweeper"),
	}
}

func (s *Sweeper) Config() SweepConfig { return s.cfg }

// LastRun is the time of the last sweep attempt, zero if none.
func (s *Sweeper) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Due reports whether Tick would run now.
func (s *Sweeper) Due() bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun.IsZero() || now.Sub(s.lastRun) >= s.cfg.Interval
}

// RunAt runs both phases as of now. Each phase is atomic on its own; a failure in the
// second phase leaves the first committed.
func (s *Sweeper) RunAt(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	res := SweepResult{RanAt: now}

	expired, err := s.store.MarkExpired(ctx, now.Add(-s.cfg.Grace), now)
	if err != nil {
		observability.SweepRuns.WithLabelValues("error").Inc()
		return res, fmt.Errorf("mark expired: %w", err)
	}
	res.Expired = expired
	observability.SweepExpired.Add(float64(expired))

	deleted, err := s.store.DeleteStale(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		observability.SweepRuns.WithLabelValues("error").Inc()
		return res, fmt.Errorf("delete stale: %w", err)
	}
	res.Deleted = deleted
	observability.SweepDeleted.WithLabelValues("rides").Add(float64(deleted.Rides))
	observability.SweepDeleted.WithLabelValues("bookings").Add(float64(deleted.Bookings))
	observability.SweepDeleted.WithLabelValues("messages").Add(float64(deleted.Messages))
	observability.SweepDeleted.WithLabelValues("reviews").Add(float64(deleted.Reviews))
	observability.SweepRuns.WithLabelValues("ok").Inc()

	return res, nil
}

// Run sweeps immediately, bypassing the interval and the distributed lock.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	now := s.clock.Now()
	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()
	return s.RunAt(ctx, now)
}

// Tick runs the sweep if at least Interval has passed since the last attempt. Errors
// are logged, never returned; the next eligible tick retries.
func (s *Sweeper) Tick(ctx context.Context) (SweepResult, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.cfg.Interval {
		s.mu.Unlock()
		return SweepResult{}, false
	}
	s.lastRun = now
	s.mu.Unlock()

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.Interval)
		if err != nil {
			s.log.WithError(err).Warn("sweep lock unavailable, sweeping locally")
		} else if !ok {
			s.log.Debug("sweep already ran on another instance")
			observability.SweepRuns.WithLabelValues("skipped").Inc()
			return SweepResult{}, false
		}
	}

	res, err := s.RunAt(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("cleanup sweep failed")
		return res, true
	}
	if res.Expired > 0 || res.Deleted.Rides > 0 {
		s.log.WithFields(map[string]interface{}{
			"expired":         res.Expired,
			"deletedRides":    res.Deleted.Rides,
			"deletedBookings": res.Deleted.Bookings,
			"deletedMessages": res.Deleted.Messages,
			"deletedReviews":  res.Deleted.Reviews,
		}).Info("cleanup sweep finished")
	}
	return res, true
}

// Scheduler drives a Sweeper from a ticker until its context is cancelled.
type Scheduler struct {
	sweeper *Sweeper
	every   time.Duration
}

// NewScheduler checks every `every`; the sweeper's Interval still gates actual runs.
func NewScheduler(sweeper *Sweeper, every time.Duration) *Scheduler {
	if every <= 0 || every > sweeper.cfg.Interval {
		every = sweeper.cfg.Interval
	}
	return &Scheduler{sweeper: sweeper, every: every}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.sweeper.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweeper.Tick(ctx)
		}
	}
}
