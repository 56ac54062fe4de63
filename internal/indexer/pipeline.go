// Package indexer walks a document tree and loads its chunks into the
// vector index in throttled batches.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/lectern/internal/embedding"
	"github.com/mohammad-safakhou/lectern/internal/segment"
	"github.com/mohammad-safakhou/lectern/internal/vectorindex"
)

const (
	DefaultBatchSize  = 50
	DefaultBatchDelay = 500 * time.Millisecond
)

var (
	// ErrAlreadyRunning is returned when Run is called while a run is in progress.
	ErrAlreadyRunning = errors.New("indexing already running")
	// ErrBatch wraps the failure of one embed+upsert batch.
	ErrBatch = errors.New("indexing batch failed")
)

// Observer receives per-batch and per-run outcomes.
type Observer interface {
	ObserveBatch(chunks int, err error)
	ObserveRun(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(int, error) {}
func (nopObserver) ObserveRun(error)        {}

type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	// Extensions lists the file suffixes to index, e.g. ".md". Matching is case-insensitive.
	Extensions []string
	Logger     *zerolog.Logger
	Observer   Observer
}

// Summary reports one run. Indexed may be below Chunks when batches failed.
type Summary struct {
	Files         int `json:"files"`
	Chunks        int `json:"chunks"`
	Indexed       int `json:"indexed"`
	FailedBatches int `json:"failed_batches"`
}

type Pipeline struct {
	segmenter *segment.Segmenter
	embedder  embedding.Embedder
	index     vectorindex.Index

	opts    Options
	exts    map[string]bool
	logger  zerolog.Logger
	obs     Observer
	running atomic.Bool
}

func New(seg *segment.Segmenter, emb embedding.Embedder, idx vectorindex.Index, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".md", ".mdx"}
	}
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.ToLower(e)] = true
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "indexer").Logger()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pipeline{segmenter: seg, embedder: emb, index: idx, opts: opts, exts: exts, logger: logger, obs: obs}
}

// Run indexes every matching file under root. A failed batch is logged and
// counted; the run continues with the next one.
func (p *Pipeline) Run(ctx context.Context, root string) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	sum, err := p.run(ctx, root)
	p.obs.ObserveRun(err)
	return sum, err
}

func (p *Pipeline) run(ctx context.Context, root string) (Summary, error) {
	var sum Summary
	files, err := p.Discover(root)
	if err != nil {
		return sum, err
	}
	sum.Files = len(files)
	p.logger.Info().Str("root", root).Int("files", len(files)).Msg("discovered documents")

	chunks := p.collect(root, files)
	sum.Chunks = len(chunks)
	p.logger.Info().Int("chunks", len(chunks)).Msg("segmented documents")

	size := p.opts.BatchSize
	total := (len(chunks) + size - 1) / size
	for i := 0; i < total; i++ {
		if i > 0 && p.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(p.opts.BatchDelay):
			}
		}
		end := min((i+1)*size, len(chunks))
		batch := chunks[i*size : end]
		err := p.indexBatch(ctx, batch)
		p.obs.ObserveBatch(len(batch), err)
		if err != nil {
			sum.FailedBatches++
			p.logger.Error().Err(err).Int("batch", i+1).Int("batches", total).Msg("batch failed; continuing")
			continue
		}
		sum.Indexed += len(batch)
		p.logger.Debug().Int("batch", i+1).Int("batches", total).Int("indexed", sum.Indexed).Msg("batch indexed")
	}

	p.logger.Info().
		Int("files", sum.Files).
		Int("chunks", sum.Chunks).
		Int("indexed", sum.Indexed).
		Int("failed_batches", sum.FailedBatches).
		Msg("indexing finished")
	return sum, nil
}

// Discover lists matching files under root as slash-separated relative
// paths in lexical order, so repeated runs assign the same point ids.
func (p *Pipeline) Discover(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("docs root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docs root %s is not a directory", root)
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// pending is a chunk with its ordinal inside the source document.
type pending struct {
	segment.Chunk
	position int
}

func (p *Pipeline) collect(root string, files []string) []pending {
	var chunks []pending
	for _, rel := range files {
		got, err := p.segmentFile(root, rel)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", rel).Msg("skipping unreadable document")
			continue
		}
		for i, c := range got {
			chunks = append(chunks, pending{Chunk: c, position: i})
		}
	}
	return chunks
}

func (p *Pipeline) segmentFile(root, rel string) ([]segment.Chunk, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return p.segmenter.SegmentHTML(rel, f)
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return p.segmenter.Segment(rel, string(raw)), nil
	}
}

func (p *Pipeline) indexBatch(ctx context.Context, batch []pending) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBatch, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", ErrBatch, len(vectors), len(batch))
	}
	points := make([]vectorindex.Point, len(batch))
	for i, c := range batch {
		points[i] = vectorindex.Point{
			ID:           vectorindex.PointID(c.DocumentID, c.ChunkIndex, c.position),
			Vector:       vectors[i],
			Text:         c.Text,
			SourceFile:   c.SourceFile,
			SectionTitle: c.SectionTitle,
			ChunkIndex:   c.ChunkIndex,
			DocumentID:   c.DocumentID,
		}
	}
	if err := p.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("%w: %w", ErrBatch, err)
	}
	return nil
}
