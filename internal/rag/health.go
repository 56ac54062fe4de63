package rag

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Active *int   `json:"active,omitempty"`
}

// Health summarises dependency state.
type Health struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

const healthTimeout = 5 * time.Second

// Health probes every dependency concurrently.
func (p *Pipeline) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	probes := map[string]func(context.Context) error{
		"embedding":    p.embedder.Ping,
		"vector_index": p.index.Ping,
		"completion":   p.completer.Ping,
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = Health{Status: StatusHealthy, Timestamp: time.Now().UTC(), Components: map[string]ComponentHealth{}}
	)
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe func(context.Context) error) {
			defer wg.Done()
			ch := ComponentHealth{Status: StatusHealthy}
			if err := probe(ctx); err != nil {
				ch = ComponentHealth{Status: StatusUnhealthy, Error: err.Error()}
			}
			mu.Lock()
			out.Components[name] = ch
			mu.Unlock()
		}(name, probe)
	}

	sessions := ComponentHealth{Status: StatusHealthy}
	if n, err := p.sessions.Count(ctx); err != nil {
		sessions = ComponentHealth{Status: StatusUnhealthy, Error: err.Error()}
	} else {
		sessions.Active = &n
	}
	wg.Wait()
	out.Components["sessions"] = sessions

	for _, c := range out.Components {
		if c.Status != StatusHealthy {
			out.Status = StatusDegraded
		}
	}
	return out
}
