package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/lectern/config"
	"github.com/mohammad-safakhou/lectern/internal/completion"
	"github.com/mohammad-safakhou/lectern/internal/embedding"
	"github.com/mohammad-safakhou/lectern/internal/logging"
	"github.com/mohammad-safakhou/lectern/internal/metrics"
	"github.com/mohammad-safakhou/lectern/internal/segment"
	"github.com/mohammad-safakhou/lectern/internal/session"
	redisstore "github.com/mohammad-safakhou/lectern/internal/session/redis"
	"github.com/mohammad-safakhou/lectern/internal/vectorindex"
	"github.com/mohammad-safakhou/lectern/internal/vectorindex/memory"
	"github.com/mohammad-safakhou/lectern/internal/vectorindex/pgvector"
	"github.com/mohammad-safakhou/lectern/internal/vectorindex/qdrant"
)

// app holds the clients shared by every command. Construct once, pass down.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	embedder embedding.Embedder
	index    vectorindex.Index
	rdb      *redis.Client

	closers []func() error
}

func loadApp(cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logging.New(logging.FromConfig(cfg.General)),
		metrics: metrics.New(),
	}
	a.embedder = embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	return a, nil
}

func (a *app) segmenter() *segment.Segmenter {
	return segment.New(segmentOptions(a.cfg.Segmenter))
}

// segmentOptions maps the segmenter config. The config layer already
// supplies defaults, so an explicit zero overlap means none.
func segmentOptions(cfg config.SegmenterConfig) segment.Options {
	overlap := cfg.ChunkOverlap
	if overlap == 0 {
		overlap = -1
	}
	return segment.Options{
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     overlap,
		MinSectionLength: cfg.MinSectionLength,
	}
}

func (a *app) qdrant() *qdrant.Client {
	q := a.cfg.VectorIndex.Qdrant
	return qdrant.New(qdrant.Config{URL: q.URL, APIKey: q.APIKey, Collection: q.Collection, Timeout: q.Timeout})
}

// openIndex connects the configured vector backend.
func (a *app) openIndex(ctx context.Context) (vectorindex.Index, error) {
	if a.index != nil {
		return a.index, nil
	}
	switch a.cfg.VectorIndex.Backend {
	case "qdrant":
		a.index = a.qdrant()
	case "pgvector":
		pg := a.cfg.VectorIndex.Postgres
		pctx := ctx
		if pg.Timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, pg.Timeout)
			defer cancel()
		}
		st, err := pgvector.NewWithDSN(pctx, pg.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		a.index = st
	case "memory":
		idx, err := memory.New()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		a.index = idx
	default:
		return nil, fmt.Errorf("unknown vector index backend %q", a.cfg.VectorIndex.Backend)
	}
	return a.index, nil
}

// redis returns a connected client, or nil when no Redis host is configured.
func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	rc := a.cfg.Session.Redis
	if rc.Host == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        rc.Addr(),
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: rc.Timeout,
		ReadTimeout: rc.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
	}
	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)
	return rdb, nil
}

func (a *app) openSessions(ctx context.Context) (session.Store, error) {
	switch a.cfg.Session.Backend {
	case "memory":
		return session.NewMemory(), nil
	case "redis":
		rdb, err := a.redis(ctx)
		if err != nil {
			return nil, err
		}
		if rdb == nil {
			return nil, fmt.Errorf("session backend redis requires session.redis.host")
		}
		return redisstore.New(rdb, redisstore.Options{TTL: a.cfg.Session.TTL, KeyPrefix: a.cfg.Session.Redis.KeyPrefix}), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", a.cfg.Session.Backend)
	}
}

func (a *app) openCompleter(ctx context.Context) (completion.Completer, error) {
	return completion.New(ctx, a.cfg.Completion.Provider, completionOptions(a.cfg.Completion))
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close")
		}
	}
}

func completionOptions(cfg config.CompletionConfig) completion.Options {
	return completion.Options{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
}
