package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the lectern service and CLI.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Completion  CompletionConfig  `mapstructure:"completion"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Session     SessionConfig     `mapstructure:"session"`
	Segmenter   SegmenterConfig   `mapstructure:"segmenter"`
	Indexing    IndexingConfig    `mapstructure:"indexing"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (e EmbeddingConfig) Validate() error {
	switch e.Provider {
	case "openai":
	default:
		return fmt.Errorf("embedding.provider %q not supported", e.Provider)
	}
	if e.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0")
	}
	if strings.TrimSpace(e.Model) == "" {
		return fmt.Errorf("embedding.model required")
	}
	return nil
}

// CompletionConfig configures the chat completion client.
type CompletionConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, anthropic, gemini
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (c CompletionConfig) Validate() error {
	switch c.Provider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("completion.provider %q not supported", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("completion.model required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("completion.max_tokens must be > 0")
	}
	return nil
}

// VectorIndexConfig selects the vector search backend.
type VectorIndexConfig struct {
	Backend  string         `mapstructure:"backend"` // qdrant, pgvector, memory
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (v VectorIndexConfig) Validate() error {
	switch v.Backend {
	case "qdrant":
		return v.Qdrant.Validate()
	case "pgvector":
		return v.Postgres.Validate()
	case "memory":
		return nil
	default:
		return fmt.Errorf("vector_index.backend %q not supported", v.Backend)
	}
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (q QdrantConfig) Validate() error {
	if strings.TrimSpace(q.URL) == "" {
		return fmt.Errorf("vector_index.qdrant.url required")
	}
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("vector_index.qdrant.collection required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("vector_index.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("vector_index.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// SessionConfig controls conversational memory.
type SessionConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, redis
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxHistory    int           `mapstructure:"max_history"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

func (s SessionConfig) Validate() error {
	switch s.Backend {
	case "memory":
	case "redis":
		if err := s.Redis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("session.backend %q not supported", s.Backend)
	}
	if s.TTL < 0 {
		return fmt.Errorf("session.ttl cannot be negative")
	}
	if s.MaxHistory < 0 {
		return fmt.Errorf("session.max_history cannot be negative")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      string        `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("session.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("session.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// SegmenterConfig controls how documents are split into chunks.
type SegmenterConfig struct {
	ChunkSize        int `mapstructure:"chunk_size"`
	ChunkOverlap     int `mapstructure:"chunk_overlap"`
	MinSectionLength int `mapstructure:"min_section_length"`
}

func (s SegmenterConfig) Validate() error {
	if s.ChunkSize <= 0 {
		return fmt.Errorf("segmenter.chunk_size must be > 0")
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("segmenter.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// IndexingConfig controls the offline indexing pipeline.
type IndexingConfig struct {
	DocsDir    string        `mapstructure:"docs_dir"`
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	Schedule   string        `mapstructure:"schedule"` // optional cron spec for re-indexing while serving
	Extensions []string      `mapstructure:"extensions"`
}

// Normalize applies defaults for unset indexing values.
func (c IndexingConfig) Normalize() IndexingConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	seen := make(map[string]struct{}, len(c.Extensions))
	var exts []string
	for _, ext := range c.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = []string{".md", ".mdx"}
	}
	c.Extensions = exts
	return c
}

// RetrievalConfig controls query-time retrieval.
type RetrievalConfig struct {
	DefaultTopK int  `mapstructure:"default_top_k"`
	Hybrid      bool `mapstructure:"hybrid"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	// Enabled exposes Prometheus metrics on /metrics.
	Enabled bool `mapstructure:"enabled"`
	// Tracing exports spans over OTLP/gRPC to OTLPEndpoint.
	Tracing      bool   `mapstructure:"tracing"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("completion.provider", "openai")
	v.SetDefault("completion.model", "gpt-4-turbo-preview")
	v.SetDefault("completion.temperature", 0.7)
	v.SetDefault("completion.max_tokens", 1000)
	v.SetDefault("completion.timeout", 60*time.Second)

	v.SetDefault("vector_index.backend", "qdrant")
	v.SetDefault("vector_index.qdrant.url", "http://localhost:6333")
	v.SetDefault("vector_index.qdrant.collection", "physical_ai_textbook")
	v.SetDefault("vector_index.qdrant.timeout", 60*time.Second)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", 60*time.Minute)
	v.SetDefault("session.sweep_interval", 5*time.Minute)
	v.SetDefault("session.max_history", 5)
	v.SetDefault("session.redis.port", "6379")
	v.SetDefault("session.redis.timeout", 5*time.Second)
	v.SetDefault("session.redis.key_prefix", "lectern:session:")

	v.SetDefault("segmenter.chunk_size", 800)
	v.SetDefault("segmenter.chunk_overlap", 100)
	v.SetDefault("segmenter.min_section_length", 50)

	v.SetDefault("indexing.docs_dir", "./docs")
	v.SetDefault("indexing.batch_size", 50)
	v.SetDefault("indexing.batch_delay", 500*time.Millisecond)
	v.SetDefault("indexing.extensions", []string{".md", ".mdx"})

	// empty defaults make these keys visible to AutomaticEnv during Unmarshal
	for _, key := range []string{
		"embedding.api_key", "embedding.base_url",
		"completion.api_key", "completion.base_url",
		"vector_index.qdrant.api_key",
		"vector_index.postgres.url", "vector_index.postgres.host", "vector_index.postgres.port",
		"vector_index.postgres.user", "vector_index.postgres.password", "vector_index.postgres.dbname",
		"vector_index.postgres.sslmode",
		"session.redis.host", "session.redis.password",
		"indexing.schedule",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("retrieval.default_top_k", 5)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
}

// LoadConfig loads config from file and LECTERN_* environment variables.
// A missing config file is not an error when no explicit path was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("LECTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnvFallbacks()
	cfg.Indexing = cfg.Indexing.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if err := c.Completion.Validate(); err != nil {
		return err
	}
	if err := c.VectorIndex.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Segmenter.Validate(); err != nil {
		return err
	}
	return nil
}

// applyEnvFallbacks picks up the conventional provider key variables so a bare .env works.
func (c *Config) applyEnvFallbacks() {
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Completion.APIKey == "" {
		switch c.Completion.Provider {
		case "anthropic":
			c.Completion.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			c.Completion.APIKey = os.Getenv("GOOGLE_API_KEY")
		default:
			c.Completion.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.VectorIndex.Qdrant.APIKey == "" {
		c.VectorIndex.Qdrant.APIKey = os.Getenv("QDRANT_API_KEY")
	}
	if c.VectorIndex.Postgres.URL == "" {
		c.VectorIndex.Postgres.URL = os.Getenv("DATABASE_URL")
	}
}
