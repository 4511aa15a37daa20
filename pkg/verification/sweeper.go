package verification

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sweeper defaults
const (
	DefaultSweepSchedule    = "*/15 * * * *"
	DefaultSweepConcurrency = 4
	sweepPageSize           = 200
)

// Lister is the read side used by the sweeper
type Lister interface {
	List(ctx context.Context, f Filter) ([]Verification, error)
}

// OverdueHandler receives each PENDING verification whose due date has
// passed. What to do with it is up to the caller.
type OverdueHandler func(ctx context.Context, v Verification) error

// Sweeper periodically hands overdue verifications to an OverdueHandler
type Sweeper struct {
	lister      Lister
	handler     OverdueHandler
	concurrency int
	logger      logrus.FieldLogger
	metrics     *observability.Metrics
	now         func() time.Time
	cron        *cron.Cron
	lastCount   atomic.Int64
}

// SweeperOption configures a Sweeper
type SweeperOption func(*Sweeper)

// WithConcurrency limits how many handler calls run at once
func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSweeperLogger sets the logger
func WithSweeperLogger(logger logrus.FieldLogger) SweeperOption {
	return func(s *Sweeper) { s.logger = observability.OrNop(logger) }
}

// WithSweeperMetrics sets the metrics sink
func WithSweeperMetrics(m *observability.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// WithSweeperClock overrides the time source
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper
func NewSweeper(lister Lister, handler OverdueHandler, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		lister:      lister,
		handler:     handler,
		concurrency: DefaultSweepConcurrency,
		logger:      observability.NopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass and returns how many verifications were overdue. All
// overdue records are collected before any handler runs, so handlers may
// transition them. The first handler error is returned after every handler
// has finished.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()

	var overdue []Verification
	for offset := 0; ; offset += sweepPageSize {
		page, err := s.lister.List(ctx, Filter{
			Status:    StatusPending,
			DueBefore: &now,
			Limit:     sweepPageSize,
			Offset:    offset,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to list overdue verifications: %w", err)
		}
		for i := range page {
			if page[i].Overdue(now) {
				overdue = append(overdue, page[i])
			}
		}
		if len(page) < sweepPageSize {
			break
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, v := range overdue {
		s.metrics.RecordOverdue(string(v.Type))
		g.Go(func() error {
			if err := s.handler(gctx, v); err != nil {
				s.logger.WithError(err).WithField("verification_id", v.ID).Warn("overdue handler failed")
				return fmt.Errorf("failed to handle overdue verification %s: %w", v.ID, err)
			}
			return nil
		})
	}
	err := g.Wait()

	s.lastCount.Store(int64(len(overdue)))
	s.logger.WithField("overdue", len(overdue)).Debug("overdue sweep finished")
	return len(overdue), err
}

// LastCount returns the overdue count of the most recent pass
func (s *Sweeper) LastCount() int { return int(s.lastCount.Load()) }

// Start schedules Sweep on a cron spec. Passes never overlap.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	logger := cron.PrintfLogger(s.logger)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Warn("overdue sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule overdue sweep: %w", err)
	}

	s.cron = c
	c.Start()
	s.logger.WithField("schedule", schedule).Info("overdue sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running pass
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
