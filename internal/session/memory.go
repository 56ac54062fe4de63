package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the in-process Store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*Conversation
	now      func() time.Time
}

type MemoryOption func(*Memory)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		sessions: make(map[string]*Conversation),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) GetOrCreate(_ context.Context, id string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if id == "" {
		id = uuid.NewString()
	}
	conv, ok := m.sessions[id]
	if !ok {
		conv = &Conversation{ID: id, Messages: []Message{}, CreatedAt: now}
		m.sessions[id] = conv
	}
	conv.LastAccessedAt = now
	return conv.clone(), nil
}

func (m *Memory) AppendExchange(_ context.Context, id, userText, assistantText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	conv, ok := m.sessions[id]
	if !ok {
		// swept between read and write; start over under the same id
		conv = &Conversation{ID: id, CreatedAt: now}
		m.sessions[id] = conv
	}
	conv.Messages = append(conv.Messages, Exchange(userText, assistantText, now)...)
	conv.LastAccessedAt = now
	return nil
}

func (m *Memory) RecentHistory(_ context.Context, id string, maxExchanges int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.sessions[id]
	if !ok {
		return []Turn{}, nil
	}
	return Recent(conv.Messages, maxExchanges), nil
}

func (m *Memory) SweepExpired(_ context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, conv := range m.sessions {
		if now.Sub(conv.LastAccessedAt) > ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.sessions[id]; ok {
		conv.Messages = []Message{}
		conv.LastAccessedAt = m.now()
	}
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}
