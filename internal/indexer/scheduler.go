package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultTick    = time.Minute
	defaultLockTTL = 30 * time.Minute
	lockKey        = "lectern:index:lock"
)

// Runner is the unit the scheduler fires. *Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, root string) (Summary, error)
}

type SchedulerOptions struct {
	// Rdb, when set, guards each run with a SETNX lock so only one instance indexes.
	Rdb     *redis.Client
	LockTTL time.Duration
	Tick    time.Duration
	// RunOnStart fires immediately instead of waiting for the first due time.
	RunOnStart bool
	Logger     *zerolog.Logger
	Now        func() time.Time
}

// Scheduler re-runs indexing on a cron spec.
type Scheduler struct {
	runner Runner
	root   string
	spec   string
	expr   *cronexpr.Expression
	opts   SchedulerOptions
	logger zerolog.Logger

	mu   sync.Mutex
	last *time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler accepts "@daily", "@hourly" or a standard cron expression.
func NewScheduler(runner Runner, root, spec string, opts SchedulerOptions) (*Scheduler, error) {
	s := &Scheduler{runner: runner, root: root, spec: spec, opts: opts}
	switch spec {
	case "@daily", "@hourly":
	default:
		expr, err := cronexpr.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", spec, err)
		}
		s.expr = expr
	}
	if s.opts.Tick <= 0 {
		s.opts.Tick = defaultTick
	}
	if s.opts.LockTTL <= 0 {
		s.opts.LockTTL = defaultLockTTL
	}
	if s.opts.Now == nil {
		s.opts.Now = time.Now
	}
	s.logger = zerolog.Nop()
	if opts.Logger != nil {
		s.logger = opts.Logger.With().Str("component", "index-scheduler").Logger()
	}
	return s, nil
}

// Start launches the ticker loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	if !s.opts.RunOnStart {
		now := s.opts.Now()
		s.last = &now
	}
	ticker := time.NewTicker(s.opts.Tick)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		if s.opts.RunOnStart {
			s.Tick(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
	s.logger.Info().Str("schedule", s.spec).Str("root", s.root).Msg("index scheduler started")
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.stop == nil {
			return
		}
		close(s.stop)
		<-s.done
	})
}

// Tick runs the pipeline if it is due. It reports whether a run happened.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	now := s.opts.Now()
	if !s.isDue(last, now) {
		return false
	}

	if s.opts.Rdb != nil {
		ok, err := s.opts.Rdb.SetNX(ctx, lockKey, "1", s.opts.LockTTL).Result()
		if err != nil {
			s.logger.Warn().Err(err).Msg("index lock unavailable; skipping")
			return false
		}
		if !ok {
			s.logger.Debug().Msg("another instance is indexing")
			s.markRun(now)
			return false
		}
		defer s.opts.Rdb.Del(context.WithoutCancel(ctx), lockKey)
	}

	s.markRun(now)
	sum, err := s.runner.Run(ctx, s.root)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled indexing failed")
		return true
	}
	s.logger.Info().
		Int("files", sum.Files).
		Int("indexed", sum.Indexed).
		Int("failed_batches", sum.FailedBatches).
		Msg("scheduled indexing finished")
	return true
}

func (s *Scheduler) markRun(t time.Time) {
	s.mu.Lock()
	s.last = &t
	s.mu.Unlock()
}

// isDue reports whether a run is due at now given the last run time.
func (s *Scheduler) isDue(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch s.spec {
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	default:
		next := s.expr.Next(*last)
		return !next.IsZero() && !next.After(now)
	}
}
