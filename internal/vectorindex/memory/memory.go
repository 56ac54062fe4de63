// Package memory is an in-process vector index for development and tests.
// Alongside cosine search it keeps a bleve keyword index so HybridSearch can
// fuse both rankings.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/lectern/internal/vectorindex"
)

const rrfK = 60 // reciprocal-rank-fusion constant

type Index struct {
	mu     sync.RWMutex
	points map[string]vectorindex.Point
	order  []string
	bleve  bleve.Index
}

func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{
		points: make(map[string]vectorindex.Point),
		bleve:  idx,
	}, nil
}

func (x *Index) Close() error { return x.bleve.Close() }

func (x *Index) Ping(context.Context) error { return nil }

// Len returns the number of stored points.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.points)
}

func (x *Index) Upsert(_ context.Context, points []vectorindex.Point) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range points {
		if len(p.Vector) == 0 {
			return vectorindex.Wrap("memory upsert "+p.ID, errEmptyVector)
		}
		if _, ok := x.points[p.ID]; !ok {
			x.order = append(x.order, p.ID)
		}
		p.Vector = append([]float32(nil), p.Vector...)
		x.points[p.ID] = p
		doc := map[string]interface{}{
			"text":    p.Text,
			"section": p.SectionTitle,
			"file":    p.SourceFile,
		}
		if err := x.bleve.Index(p.ID, doc); err != nil {
			return vectorindex.Wrap("memory keyword index", err)
		}
	}
	return nil
}

type ranked struct {
	id    string
	score float64
}

func (x *Index) Search(_ context.Context, vector []float32, topK int) ([]vectorindex.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorindex.Wrap("memory search", errEmptyVector)
	}
	k := vectorindex.ClampTopK(topK)
	x.mu.RLock()
	defer x.mu.RUnlock()

	scored := x.vectorRanking(vector)
	if len(scored) > k {
		scored = scored[:k]
	}
	hits := make([]vectorindex.Hit, 0, len(scored))
	for _, s := range scored {
		hits = append(hits, x.hit(s.id, vectorindex.ClampScore(s.score)))
	}
	return hits, nil
}

// HybridSearch fuses cosine and BM25 rankings with reciprocal-rank fusion.
// Scores are the fused value scaled so a chunk ranked first by both is 1.
func (x *Index) HybridSearch(_ context.Context, query string, vector []float32, topK int) ([]vectorindex.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorindex.Wrap("memory hybrid search", errEmptyVector)
	}
	k := vectorindex.ClampTopK(topK)
	x.mu.RLock()
	defer x.mu.RUnlock()

	dense := x.vectorRanking(vector)
	if len(dense) > k*3 {
		dense = dense[:k*3]
	}
	sparse, err := x.keywordRanking(query, k*3)
	if err != nil {
		return nil, vectorindex.Wrap("memory keyword search", err)
	}

	fused := map[string]float64{}
	var ids []string
	add := func(list []ranked) {
		for rank, r := range list {
			if _, ok := fused[r.id]; !ok {
				ids = append(ids, r.id)
			}
			fused[r.id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(dense)
	add(sparse)

	sort.SliceStable(ids, func(i, j int) bool { return fused[ids[i]] > fused[ids[j]] })
	if len(ids) > k {
		ids = ids[:k]
	}
	best := 2.0 / float64(rrfK+1)
	hits := make([]vectorindex.Hit, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, x.hit(id, vectorindex.ClampScore(fused[id]/best)))
	}
	return hits, nil
}

// vectorRanking scores every point by cosine similarity; callers hold the lock.
func (x *Index) vectorRanking(vector []float32) []ranked {
	out := make([]ranked, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, ranked{id: id, score: cosine(vector, x.points[id].Vector)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func (x *Index) keywordRanking(query string, limit int) ([]ranked, error) {
	if query == "" {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), limit, 0, false)
	res, err := x.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]ranked, 0, len(res.Hits))
	for _, h := range res.Hits {
		if _, ok := x.points[h.ID]; ok {
			out = append(out, ranked{id: h.ID, score: h.Score})
		}
	}
	return out, nil
}

func (x *Index) hit(id string, score float64) vectorindex.Hit {
	p := x.points[id]
	return vectorindex.Hit{
		ID:           id,
		Text:         p.Text,
		SourceFile:   p.SourceFile,
		SectionTitle: p.SectionTitle,
		ChunkIndex:   p.ChunkIndex,
		Score:        score,
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
