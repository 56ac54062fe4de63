// Package rag orchestrates a question through retrieval, context assembly,
// generation and session recording.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/lectern/internal/assembler"
	"github.com/mohammad-safakhou/lectern/internal/completion"
	"github.com/mohammad-safakhou/lectern/internal/embedding"
	"github.com/mohammad-safakhou/lectern/internal/session"
	"github.com/mohammad-safakhou/lectern/internal/vectorindex"
)

const DefaultMaxHistory = 5

// Observer receives stage timings and query outcomes.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration)
	ObserveQuery(outcome string, degraded bool, tokens int)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveQuery(string, bool, int) {}

// Options tunes the pipeline. Zero values take defaults; a negative
// MaxHistory sends no prior turns to the model.
type Options struct {
	MaxHistory    int
	DefaultTopK   int
	Hybrid        bool
	SystemPrompt  string
	PreviewLength int
	Logger        *zerolog.Logger
	Observer      Observer
}

// Retrieval is the tagged outcome of the retrieval stage: either hits, or
// Degraded with the reason and no hits.
type Retrieval struct {
	Hits     []vectorindex.Hit
	Degraded bool
	Reason   string
}

// Pipeline wires the clients together. It holds no per-query state.
type Pipeline struct {
	embedder  embedding.Embedder
	index     vectorindex.Index
	sessions  session.Store
	completer completion.Completer

	opts   Options
	logger zerolog.Logger
	obs    Observer
	tracer trace.Tracer
}

func New(emb embedding.Embedder, idx vectorindex.Index, sessions session.Store, completer completion.Completer, opts Options) *Pipeline {
	if opts.MaxHistory < 0 {
		opts.MaxHistory = 0
	} else if opts.MaxHistory == 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	opts.DefaultTopK = vectorindex.ClampTopK(opts.DefaultTopK)
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = completion.SystemPrompt
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "rag").Logger()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pipeline{
		embedder:  emb,
		index:     idx,
		sessions:  sessions,
		completer: completer,
		opts:      opts,
		logger:    logger,
		obs:       obs,
		tracer:    otel.Tracer("github.com/mohammad-safakhou/lectern/internal/rag"),
	}
}

// stageTimer reports the elapsed time of the current stage when the next one begins.
type stageTimer struct {
	obs   Observer
	stage Stage
	start time.Time
}

func (t *stageTimer) enter(s Stage) {
	now := time.Now()
	if t.stage != "" {
		t.obs.ObserveStage(string(t.stage), now.Sub(t.start))
	}
	t.stage, t.start = s, now
}

// Query answers one question. Retrieval failures degrade to an answer
// without context; generation failures abort and record nothing.
func (p *Pipeline) Query(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "rag.Query")
	defer span.End()

	if err := req.Validate(); err != nil {
		p.obs.ObserveQuery(OutcomeInvalid, false, 0)
		return Response{}, err
	}

	timer := &stageTimer{obs: p.obs}
	timer.enter(StageReceived)
	conv, err := p.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		p.obs.ObserveQuery(OutcomeSessionError, false, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "session")
		return Response{}, fmt.Errorf("load session: %w", err)
	}
	topK := p.opts.DefaultTopK
	if req.TopK > 0 {
		topK = vectorindex.ClampTopK(req.TopK)
	}
	span.SetAttributes(attribute.String("session.id", conv.ID), attribute.Int("top_k", topK))
	log := p.logger.With().Str("session_id", conv.ID).Logger()

	timer.enter(StageRetrieving)
	retrieval := p.retrieve(ctx, req.Query, topK)
	if retrieval.Degraded {
		log.Warn().Str("reason", retrieval.Reason).Msg("retrieval degraded; answering without context")
		span.SetAttributes(attribute.Bool("retrieval.degraded", true))
	}

	timer.enter(StageAssembling)
	assembled := assembler.Assemble(retrieval.Hits, req.Highlighted, p.assemblerOptions()...)

	timer.enter(StageGenerating)
	history, err := p.sessions.RecentHistory(ctx, conv.ID, p.opts.MaxHistory)
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable; continuing without it")
		history = nil
	}
	answer, err := p.completer.Complete(ctx, p.opts.SystemPrompt, history, completion.UserPrompt(assembled.Context, req.Query))
	if err != nil {
		timer.enter(StageError)
		p.obs.ObserveQuery(OutcomeGenerationFailed, retrieval.Degraded, 0)
		log.Error().Err(err).Msg("generation failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation")
		return Response{}, err
	}

	timer.enter(StageRecording)
	if err := p.sessions.AppendExchange(ctx, conv.ID, req.Query, answer.Text); err != nil {
		log.Warn().Err(err).Msg("failed to record exchange")
	}

	timer.enter(StageComplete)
	elapsed := time.Since(started)
	p.obs.ObserveQuery(OutcomeOK, retrieval.Degraded, answer.TokensUsed)
	log.Info().
		Int("hits", len(retrieval.Hits)).
		Int("tokens", answer.TokensUsed).
		Dur("elapsed", elapsed).
		Msg("query answered")

	return Response{
		Answer:         answer.Text,
		Citations:      assembled.Citations,
		SessionID:      conv.ID,
		TokensUsed:     answer.TokensUsed,
		ElapsedMs:      elapsed.Milliseconds(),
		Degraded:       retrieval.Degraded,
		DegradedReason: retrieval.Reason,
	}, nil
}

func (p *Pipeline) assemblerOptions() []assembler.Option {
	if p.opts.PreviewLength > 0 {
		return []assembler.Option{assembler.WithPreviewLength(p.opts.PreviewLength)}
	}
	return nil
}

// retrieve embeds the query and searches the index. It never fails: any
// error becomes a degraded result with no hits.
func (p *Pipeline) retrieve(ctx context.Context, query string, topK int) Retrieval {
	ctx, span := p.tracer.Start(ctx, "rag.retrieve")
	defer span.End()

	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		return Retrieval{Hits: []vectorindex.Hit{}, Degraded: true, Reason: "embedding: " + err.Error()}
	}

	var hits []vectorindex.Hit
	if hs, ok := p.index.(vectorindex.HybridSearcher); ok && p.opts.Hybrid {
		hits, err = hs.HybridSearch(ctx, query, vec, topK)
	} else {
		hits, err = p.index.Search(ctx, vec, topK)
	}
	if err != nil {
		span.RecordError(err)
		return Retrieval{Hits: []vectorindex.Hit{}, Degraded: true, Reason: "search: " + err.Error()}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return Retrieval{Hits: hits}
}

// ClearSession empties a session's history.
func (p *Pipeline) ClearSession(ctx context.Context, id string) error {
	return p.sessions.Clear(ctx, id)
}
