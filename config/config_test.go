package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := LoadConfig(writeConfig(t, "general:\n  log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "sk-test", cfg.Completion.APIKey)
	assert.Equal(t, "qdrant", cfg.VectorIndex.Backend)
	assert.Equal(t, "physical_ai_textbook", cfg.VectorIndex.Qdrant.Collection)
	assert.Equal(t, 60*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 5, cfg.Session.MaxHistory)
	assert.Equal(t, 800, cfg.Segmenter.ChunkSize)
	assert.Equal(t, 100, cfg.Segmenter.ChunkOverlap)
	assert.Equal(t, 50, cfg.Indexing.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Indexing.BatchDelay)
	assert.Equal(t, []string{".md", ".mdx"}, cfg.Indexing.Extensions)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	t.Setenv("LECTERN_COMPLETION_PROVIDER", "anthropic")
	t.Setenv("LECTERN_COMPLETION_MODEL", "claude-sonnet-4-0")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("LECTERN_SESSION_REDIS_HOST", "redis.internal")
	path := writeConfig(t, `
vector_index:
  backend: memory
session:
  backend: redis
  ttl: 30m
indexing:
  extensions: [MD, ".html", ".md"]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Completion.Provider)
	assert.Equal(t, "claude-sonnet-4-0", cfg.Completion.Model)
	assert.Equal(t, "ak-test", cfg.Completion.APIKey)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "redis.internal:6379", cfg.Session.Redis.Addr())
	assert.Equal(t, []string{".md", ".html"}, cfg.Indexing.Extensions)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"bad completion provider": "completion:\n  provider: cohere\n",
		"bad overlap":             "segmenter:\n  chunk_size: 100\n  chunk_overlap: 100\n",
		"redis without host":      "session:\n  backend: redis\n",
		"pgvector without dsn":    "vector_index:\n  backend: pgvector\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "lectern"}
	assert.Equal(t, "postgres://u:p@db:5432/lectern?sslmode=disable", p.DSN())
	p.URL = "postgres://explicit"
	assert.Equal(t, "postgres://explicit", p.DSN())
}
