package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/DaybreakLabs/daybreak/backend/internal/priorities"
	"go.uber.org/zap"
)

const (
	// DefaultRetention is the grace window a soft-deleted priority survives
	// before the sweeper removes it permanently.
	DefaultRetention = 24 * time.Hour
	// DefaultInterval is how often the background sweep runs.
	DefaultInterval = time.Hour
)

var errMissingPriorities = errors.New("priorities service dependency required")

// Config describes the sweeper's dependencies and schedule.
type Config struct {
	Priorities *priorities.Service
	Retention  time.Duration
	Interval   time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Sweeper permanently removes soft-deleted priorities once their grace
// window has elapsed. Sweeps are idempotent and safe to run concurrently
// with each other and with restore requests: eligibility is re-checked
// inside the store's conditional delete, not read ahead of it.
type Sweeper struct {
	priorities *priorities.Service
	retention  time.Duration
	interval   time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Priorities == nil {
		return nil, errMissingPriorities
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		priorities: cfg.Priorities,
		retention:  retention,
		interval:   interval,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("purge sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("purge sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled purge sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce purges everything soft-deleted longer ago than the retention
// window and returns the number of records removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().Add(-s.retention)
	purged, err := s.priorities.PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("expired priorities purged",
			zap.Int64("purged", purged),
			zap.Time("cutoff", cutoff))
	}
	return purged, nil
}
