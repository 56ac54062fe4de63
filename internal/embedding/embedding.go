// Package embedding converts text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbedding marks any failure of the embedding service.
var ErrEmbedding = errors.New("embedding failed")

// Embedder maps text to vectors. A batch either fully succeeds or fails as a whole.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Ping(ctx context.Context) error
}

// Error describes a failed embedding call.
type Error struct {
	Op     string
	Inputs int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding %s (%d inputs): %v", e.Op, e.Inputs, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrEmbedding }
