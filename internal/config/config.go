// Package config holds the recognized Semem configuration options and a
// YAML loader, following the teacher's migration CLI config pattern
// (cmd/migration/main.go's -config flag over gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint describes one SPARQL endpoint target.
type Endpoint struct {
	Query    string `yaml:"query"`
	Update   string `yaml:"update"`
	GSP      string `yaml:"gsp"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Config enumerates every recognized option from spec.md §6.4.
type Config struct {
	EmbeddingDimension int     `yaml:"embedding_dimension"`
	EmbeddingModel     string  `yaml:"embedding_model"`
	ChatModel          string  `yaml:"chat_model"`

	PromoteThreshold int     `yaml:"promote_threshold"`
	DecayRate        float64 `yaml:"decay_rate"`
	FadeFactor       float64 `yaml:"fade_factor"`

	SimilarityThresholdSession    float64 `yaml:"similarity_threshold_session"`
	SimilarityThresholdPersistent float64 `yaml:"similarity_threshold_persistent"`

	ContextMaxTokens     int     `yaml:"context_max_tokens"`
	ContextOverlapRatio  float64 `yaml:"context_overlap_ratio"`

	CacheEnabled bool `yaml:"cache_enabled"`
	CacheTTLMs   int  `yaml:"cache_ttl_ms"`
	CacheMaxSize int  `yaml:"cache_max_size"`

	SparqlEndpoints []Endpoint `yaml:"sparql_endpoints"`
	MemoryGraphIRI  string     `yaml:"memory_graph_iri"`

	RetryMaxAttempts int `yaml:"retry_max_attempts"`
	RetryBackoffMs   int `yaml:"retry_backoff_ms"`
}

// CacheTTL returns the configured cache TTL as a time.Duration.
func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLMs) * time.Millisecond }

// RetryBackoff returns the configured base retry backoff as a time.Duration.
func (c Config) RetryBackoff() time.Duration { return time.Duration(c.RetryBackoffMs) * time.Millisecond }

// Default returns the documented defaults from spec.md §6.4.
func Default() Config {
	return Config{
		EmbeddingDimension: 1536,
		EmbeddingModel:     "text-embedding-ada-002",
		ChatModel:          "gpt-4",

		PromoteThreshold: 10,
		DecayRate:        1e-4,
		FadeFactor:       0.9,

		SimilarityThresholdSession:    40,
		SimilarityThresholdPersistent: 30,

		ContextMaxTokens:    8192,
		ContextOverlapRatio: 0.1,

		CacheEnabled: true,
		CacheTTLMs:   300000,
		CacheMaxSize: 1000,

		MemoryGraphIRI: "http://purl.org/semem/graphs/memory",

		RetryMaxAttempts: 3,
		RetryBackoffMs:   500,
	}
}

// LoadFile reads a YAML config file, applying it on top of Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// getEnv mirrors the teacher's cmd/*/main.go environment-override helper.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ApplyEnvOverrides overlays a small set of operator-facing environment
// variables onto cfg, following the teacher's getEnv convention.
func (c Config) ApplyEnvOverrides() Config {
	c.MemoryGraphIRI = getEnv("SEMEM_MEMORY_GRAPH_IRI", c.MemoryGraphIRI)
	c.EmbeddingModel = getEnv("SEMEM_EMBEDDING_MODEL", c.EmbeddingModel)
	c.ChatModel = getEnv("SEMEM_CHAT_MODEL", c.ChatModel)
	return c
}
