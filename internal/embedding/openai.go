package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible embedding backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAI embeds text with an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
	// request reduced dimensions only when the model supports it
	sendDimensions bool
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAI{
		client:         openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		dim:            dim,
		sendDimensions: strings.HasPrefix(cfg.Model, "text-embedding-3"),
	}
}

func (o *OpenAI) Dimension() int { return o.dim }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.embed(ctx, "embed", []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return o.embed(ctx, "embed_batch", texts)
}

func (o *OpenAI) embed(ctx context.Context, op string, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	}
	if o.sendDimensions {
		req.Dimensions = o.dim
	}
	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, &Error{Op: op, Inputs: len(texts), Err: err}
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, &Error{Op: op, Inputs: len(texts), Err: fmt.Errorf("response index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, &Error{Op: op, Inputs: len(texts), Err: fmt.Errorf("no vector for input %d", i)}
		}
		if len(v) != o.dim {
			return nil, &Error{Op: op, Inputs: len(texts), Err: fmt.Errorf("input %d: got %d dimensions, want %d", i, len(v), o.dim)}
		}
	}
	return out, nil
}

// Ping checks that the service answers authenticated requests.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}
