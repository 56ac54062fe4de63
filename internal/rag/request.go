package rag

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mohammad-safakhou/lectern/internal/assembler"
)

const (
	MaxQueryLength       = 2000
	MaxHighlightedLength = 5000
)

// ErrInvalidRequest marks a request rejected before any work is done.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one user question.
type Request struct {
	Query       string
	Highlighted string
	SessionID   string
	// TopK <= 0 selects the configured default; larger values are clamped to 20.
	TopK int
}

// Validate checks length bounds on the free-text fields.
func (r Request) Validate() error {
	q := strings.TrimSpace(r.Query)
	if q == "" {
		return fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(r.Query); n > MaxQueryLength {
		return fmt.Errorf("%w: query has %d characters, limit is %d", ErrInvalidRequest, n, MaxQueryLength)
	}
	if n := utf8.RuneCountInString(r.Highlighted); n > MaxHighlightedLength {
		return fmt.Errorf("%w: selected text has %d characters, limit is %d", ErrInvalidRequest, n, MaxHighlightedLength)
	}
	return nil
}

// Response is the answer with its provenance.
type Response struct {
	Answer     string
	Citations  []assembler.Citation
	SessionID  string
	TokensUsed int
	ElapsedMs  int64
	// Degraded is set when retrieval failed and the answer had no retrieved context.
	Degraded       bool
	DegradedReason string
}
