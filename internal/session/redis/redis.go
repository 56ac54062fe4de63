// Package redis stores conversations in Redis so several lectern instances
// can share sessions. Each session is one JSON document whose key expires
// after the idle TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/lectern/internal/session"
)

const (
	DefaultKeyPrefix = "lectern:session:"
	maxTxRetries     = 64
)

type Options struct {
	TTL       time.Duration
	KeyPrefix string
	Now       func() time.Time
}

type Store struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func New(client *goredis.Client, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = session.DefaultTTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{client: client, ttl: opts.TTL, prefix: opts.KeyPrefix, now: opts.Now}
}

func (s *Store) key(id string) string { return s.prefix + id }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// update runs fn on the stored conversation inside a WATCH transaction and
// writes the result back with a fresh TTL.
func (s *Store) update(ctx context.Context, id string, fn func(conv *session.Conversation)) (session.Conversation, error) {
	key := s.key(id)
	var out session.Conversation
	txf := func(tx *goredis.Tx) error {
		now := s.now()
		conv := session.Conversation{ID: id, Messages: []session.Message{}, CreatedAt: now}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &conv); err != nil {
				return fmt.Errorf("decode session %s: %w", id, err)
			}
		}
		fn(&conv)
		conv.LastAccessedAt = now
		data, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			out = conv
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return session.Conversation{}, err
	}
	return session.Conversation{}, fmt.Errorf("session %s: too much contention", id)
}

func (s *Store) GetOrCreate(ctx context.Context, id string) (session.Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return s.update(ctx, id, func(*session.Conversation) {})
}

func (s *Store) AppendExchange(ctx context.Context, id, userText, assistantText string) error {
	_, err := s.update(ctx, id, func(conv *session.Conversation) {
		conv.Messages = append(conv.Messages, session.Exchange(userText, assistantText, s.now())...)
	})
	return err
}

func (s *Store) RecentHistory(ctx context.Context, id string, maxExchanges int) ([]session.Turn, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return []session.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	var conv session.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session.Recent(conv.Messages, maxExchanges), nil
}

// SweepExpired ignores ttl and always returns 0. Each key carries the TTL
// given to New and Redis drops idle sessions itself.
func (s *Store) SweepExpired(context.Context, time.Duration) (int, error) { return 0, nil }

func (s *Store) Clear(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil || exists == 0 {
		return err
	}
	_, err = s.update(ctx, id, func(conv *session.Conversation) {
		conv.Messages = []session.Message{}
	})
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 500).Result()
		if err != nil {
			return 0, err
		}
		n += len(keys)
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}
