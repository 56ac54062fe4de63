// Package session keeps short-lived conversational history keyed by session id.
package session

import (
	"context"
	"time"
)

const (
	DefaultTTL           = 60 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one stored utterance.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is a message as handed to the completion client.
type Turn struct {
	Role    Role
	Content string
}

// Conversation is a snapshot of one session. Callers own the returned value.
type Conversation struct {
	ID             string    `json:"id"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

func (c Conversation) clone() Conversation {
	c.Messages = append([]Message(nil), c.Messages...)
	return c
}

// Store holds conversations. Implementations must be safe for concurrent use;
// appends to the same id never lose an exchange.
type Store interface {
	// GetOrCreate returns the session for id, creating it when id is empty or unknown.
	GetOrCreate(ctx context.Context, id string) (Conversation, error)
	// AppendExchange records a user message and its answer as one unit.
	AppendExchange(ctx context.Context, id, userText, assistantText string) error
	// RecentHistory returns up to 2*maxExchanges messages, oldest first.
	RecentHistory(ctx context.Context, id string, maxExchanges int) ([]Turn, error)
	// SweepExpired removes sessions idle for longer than ttl and reports how many.
	SweepExpired(ctx context.Context, ttl time.Duration) (int, error)
	// Clear empties the history of id but keeps the session.
	Clear(ctx context.Context, id string) error
	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
}

// Recent converts the tail of messages into turns.
func Recent(messages []Message, maxExchanges int) []Turn {
	if maxExchanges <= 0 || len(messages) == 0 {
		return []Turn{}
	}
	start := len(messages) - 2*maxExchanges
	if start < 0 {
		start = 0
	}
	out := make([]Turn, 0, len(messages)-start)
	for _, m := range messages[start:] {
		out = append(out, Turn{Role: m.Role, Content: m.Content})
	}
	return out
}

// Exchange builds the (user, assistant) message pair stamped at now.
func Exchange(userText, assistantText string, now time.Time) []Message {
	return []Message{
		{Role: RoleUser, Content: userText, Timestamp: now},
		{Role: RoleAssistant, Content: assistantText, Timestamp: now},
	}
}
