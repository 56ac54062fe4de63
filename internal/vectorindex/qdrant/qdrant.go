// Package qdrant is a minimal REST client for a Qdrant collection.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/lectern/internal/vectorindex"
)

// ErrCollectionNotFound is returned when the configured collection does not exist.
var ErrCollectionNotFound = errors.New("qdrant collection not found")

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Client talks to one collection using cosine distance.
type Client struct {
	url        string
	apiKey     string
	collection string
	http       *http.Client
}

// CollectionInfo summarises a collection.
type CollectionInfo struct {
	Status      string
	PointsCount int64
	VectorSize  int
	Distance    string
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		http:       &http.Client{Timeout: timeout},
	}
}

func (c *Client) Collection() string { return c.collection }

func (c *Client) collectionURL(suffix string) string {
	return c.url + "/collections/" + url.PathEscape(c.collection) + suffix
}

// Upsert writes points and waits for them to be persisted.
func (c *Client) Upsert(ctx context.Context, points []vectorindex.Point) error {
	if len(points) == 0 {
		return nil
	}
	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload()}
	}
	if err := c.do(ctx, http.MethodPut, c.collectionURL("/points?wait=true"), body, nil); err != nil {
		return vectorindex.Wrap("qdrant upsert", err)
	}
	return nil
}

type searchResult struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Search returns the topK nearest chunks, best first.
func (c *Client) Search(ctx context.Context, vector []float32, topK int) ([]vectorindex.Hit, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        vectorindex.ClampTopK(topK),
		"with_payload": true,
	}
	var resp struct {
		Result []searchResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, c.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, vectorindex.Wrap("qdrant search", err)
	}
	hits := make([]vectorindex.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, toHit(r))
	}
	vectorindex.SortHits(hits)
	return hits, nil
}

func toHit(r searchResult) vectorindex.Hit {
	h := vectorindex.Hit{ID: fmt.Sprint(r.ID), Score: vectorindex.ClampScore(r.Score)}
	if v, ok := r.Payload[vectorindex.PayloadText].(string); ok {
		h.Text = v
	}
	if v, ok := r.Payload[vectorindex.PayloadFile].(string); ok {
		h.SourceFile = v
	}
	if v, ok := r.Payload[vectorindex.PayloadSection].(string); ok {
		h.SectionTitle = v
	}
	if v, ok := r.Payload[vectorindex.PayloadChunkIndex].(float64); ok {
		h.ChunkIndex = int(v)
	}
	return h
}

// Ping reports whether the collection is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Info(ctx)
	return err
}

// Info fetches collection status. A missing collection yields ErrCollectionNotFound.
func (c *Client) Info(ctx context.Context) (CollectionInfo, error) {
	var resp struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.collectionURL(""), nil, &resp); err != nil {
		return CollectionInfo{}, vectorindex.Wrap("qdrant info", err)
	}
	r := resp.Result
	return CollectionInfo{
		Status:      r.Status,
		PointsCount: r.PointsCount,
		VectorSize:  r.Config.Params.Vectors.Size,
		Distance:    r.Config.Params.Vectors.Distance,
	}, nil
}

// Exists reports whether the collection has been created.
func (c *Client) Exists(ctx context.Context) (bool, error) {
	_, err := c.Info(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrCollectionNotFound):
		return false, nil
	default:
		return false, err
	}
}

// EnsureCollection creates the collection with cosine distance when missing.
// With recreate set, an existing collection is dropped first.
func (c *Client) EnsureCollection(ctx context.Context, dimension int, recreate bool) (created bool, err error) {
	if dimension <= 0 {
		return false, errors.New("qdrant: invalid dimension")
	}
	exists, err := c.Exists(ctx)
	if err != nil {
		return false, err
	}
	if exists && !recreate {
		return false, nil
	}
	if exists {
		if err := c.do(ctx, http.MethodDelete, c.collectionURL(""), nil, nil); err != nil {
			return false, vectorindex.Wrap("qdrant delete collection", err)
		}
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := c.do(ctx, http.MethodPut, c.collectionURL(""), body, nil); err != nil {
		return false, vectorindex.Wrap("qdrant create collection", err)
	}
	return true, nil
}

// CreatePayloadIndexes indexes the metadata fields used for filtering.
func (c *Client) CreatePayloadIndexes(ctx context.Context) error {
	fields := []struct{ name, schema string }{
		{vectorindex.PayloadFile, "keyword"},
		{vectorindex.PayloadSection, "keyword"},
		{vectorindex.PayloadChunkIndex, "integer"},
	}
	for _, f := range fields {
		body := map[string]any{"field_name": f.name, "field_schema": f.schema}
		if err := c.do(ctx, http.MethodPut, c.collectionURL("/index?wait=true"), body, nil); err != nil {
			return vectorindex.Wrap("qdrant payload index "+f.name, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return ErrCollectionNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s %s", method, u, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
