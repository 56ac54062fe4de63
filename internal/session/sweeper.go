package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically evicts idle sessions from a Store.
type Sweeper struct {
	Store    Store
	TTL      time.Duration
	Interval time.Duration
	Logger   zerolog.Logger
	// OnSweep, when set, receives the live session count after every pass.
	OnSweep func(active int)

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// Start launches the sweep loop in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one eviction pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	removed, err := s.Store.SweepExpired(ctx, ttl)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("session sweep failed")
		return
	}
	if removed > 0 {
		s.Logger.Debug().Int("removed", removed).Msg("expired sessions swept")
	}
	if s.OnSweep != nil {
		if n, err := s.Store.Count(ctx); err == nil {
			s.OnSweep(n)
		}
	}
}

// Stop ends the loop and waits for it to exit. Safe to call more than once.
func (s *Sweeper) Stop() {
	if s.stop == nil {
		return
	}
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
