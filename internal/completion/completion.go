// Package completion generates answers from a chat-completion service.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/lectern/internal/assembler"
	"github.com/mohammad-safakhou/lectern/internal/session"
)

// ErrGeneration marks a failed or empty completion.
var ErrGeneration = errors.New("generation failed")

// SystemPrompt instructs the model to answer from the supplied context and
// cite sources with the labels the assembler writes.
var SystemPrompt = strings.Join([]string{
	"You are a helpful teaching assistant for an educational textbook.",
	"Answer the question using the provided context.",
	"If the context does not contain the answer, say so plainly instead of guessing.",
	"Cite the sources you rely on with their labels, for example " + assembler.SourceLabel(1) + ".",
	"Text under SELECTED TEXT is what the reader highlighted; use it to understand the question.",
	"Be precise and educational.",
}, " ")

// Response is the generated answer.
type Response struct {
	Text       string
	TokensUsed int
}

// Completer produces an answer given a system prompt, prior turns and the
// final user prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []session.Turn, userPrompt string) (Response, error)
	Ping(ctx context.Context) error
}

// Options holds settings shared by every backend.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// New builds the backend named by provider.
func New(ctx context.Context, provider string, opts Options) (Completer, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	switch provider {
	case "", "openai":
		return NewOpenAI(opts), nil
	case "anthropic":
		return NewAnthropic(opts), nil
	case "gemini":
		return NewGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", provider)
	}
}

// UserPrompt frames the assembled context and the question for the model.
func UserPrompt(contextText, question string) string {
	if strings.TrimSpace(contextText) == "" {
		return "Context:\n(no relevant textbook content was found)\n\nQuestion: " + question
	}
	return "Context:\n" + contextText + "\n\nQuestion: " + question
}

func generationError(provider string, err error) error {
	return fmt.Errorf("%s completion: %w: %w", provider, ErrGeneration, err)
}

var errEmptyAnswer = errors.New("empty response content")
