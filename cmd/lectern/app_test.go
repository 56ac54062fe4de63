package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mohammad-safakhou/lectern/config"
	"github.com/mohammad-safakhou/lectern/internal/completion"
	"github.com/mohammad-safakhou/lectern/internal/segment"
)

func TestCompletionOptions(t *testing.T) {
	got := completionOptions(config.CompletionConfig{
		Provider:    "anthropic",
		APIKey:      "k",
		BaseURL:     "http://llm.local",
		Model:       "claude-test",
		Temperature: 0.2,
		MaxTokens:   500,
		Timeout:     30 * time.Second,
	})
	assert.Equal(t, completion.Options{
		APIKey:      "k",
		BaseURL:     "http://llm.local",
		Model:       "claude-test",
		Temperature: 0.2,
		MaxTokens:   500,
		Timeout:     30 * time.Second,
	}, got)
}

func TestSegmentOptionsZeroOverlapDisablesIt(t *testing.T) {
	got := segmentOptions(config.SegmenterConfig{ChunkSize: 800, ChunkOverlap: 0, MinSectionLength: 100})
	assert.Equal(t, segment.Options{ChunkSize: 800, ChunkOverlap: -1, MinSectionLength: 100}, got)

	got = segmentOptions(config.SegmenterConfig{ChunkSize: 800, ChunkOverlap: 120, MinSectionLength: 100})
	assert.Equal(t, 120, got.ChunkOverlap)
}

func TestHistoryLimitZeroDisablesHistory(t *testing.T) {
	assert.Equal(t, -1, historyLimit(0))
	assert.Equal(t, 5, historyLimit(5))
}
