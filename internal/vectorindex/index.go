// Package vectorindex defines the vector search contract shared by the
// qdrant, pgvector and in-memory backends.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

const (
	DefaultTopK = 5
	MaxTopK     = 20
)

// ErrRetrieval marks a failed upsert or search against the index.
var ErrRetrieval = errors.New("vector index unavailable")

// payload keys stored alongside every vector
const (
	PayloadText       = "text"
	PayloadFile       = "file"
	PayloadSection    = "section"
	PayloadChunkIndex = "chunk_index"
	PayloadDocumentID = "doc_id"
)

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/mohammad-safakhou/lectern/points"))

// Point is a chunk plus its embedding, ready for upsert.
type Point struct {
	ID           string
	Vector       []float32
	Text         string
	SourceFile   string
	SectionTitle string
	ChunkIndex   int
	DocumentID   string
}

// Payload returns the metadata stored with the vector.
func (p Point) Payload() map[string]any {
	return map[string]any{
		PayloadText:       p.Text,
		PayloadFile:       p.SourceFile,
		PayloadSection:    p.SectionTitle,
		PayloadChunkIndex: p.ChunkIndex,
		PayloadDocumentID: p.DocumentID,
	}
}

// Hit is a search result. Score is normalised to [0,1], higher is closer.
type Hit struct {
	ID           string
	Text         string
	SourceFile   string
	SectionTitle string
	ChunkIndex   int
	Score        float64
}

// Index stores and searches chunk vectors.
type Index interface {
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	Ping(ctx context.Context) error
}

// HybridSearcher is implemented by backends that can fuse keyword and vector rankings.
type HybridSearcher interface {
	HybridSearch(ctx context.Context, query string, vector []float32, topK int) ([]Hit, error)
}

// PointID derives a deterministic UUID for a chunk, so re-indexing the same
// corpus overwrites instead of duplicating. position is the chunk's ordinal
// within its document; chunkIndex alone restarts at every section.
func PointID(documentID string, chunkIndex, position int) string {
	name := fmt.Sprintf("%s_%d_%d", documentID, chunkIndex, position)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// ClampTopK returns k bounded to [1, MaxTopK]; non-positive k yields DefaultTopK.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}

// ClampScore bounds a similarity to [0,1].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// SortHits orders hits by descending score, keeping input order for ties.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

// Wrap tags err as a retrieval failure for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRetrieval, err)
}
