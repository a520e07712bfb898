// Package config loads runtime configuration from the environment,
// optionally seeded from a local .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config collects every knob the commands need. Values come from the
// environment with sensible fallbacks; only the annotation command
// requires the GCP fields.
type Config struct {
	FilesDir string
	PagesDir string
	DBPath   string
	IndexDir string

	ProjectID           string
	VertexAIRegion      string
	AnnotateModel       string
	AnnotateConcurrency int

	EmbedBaseURL   string
	EmbedAPIKey    string
	EmbedModel     string
	EmbedDimension int
	EmbedBatchSize int

	SimilarityThreshold float64
	SearchPageSize      int
	DownloadBaseURL     string
}

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Load reads the .env file if one is present and assembles the Config.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{
		FilesDir: GetEnv("FILES_DIR", "library_files"),
		PagesDir: GetEnv("PAGES_DIR", "library_pages"),
		DBPath:   GetEnv("DB_PATH", "library_db/insightbase.db"),
		IndexDir: GetEnv("VECTOR_INDEX_DIR", "vector_index"),

		ProjectID:           GetEnv("PROJECT_ID", ""),
		VertexAIRegion:      GetEnv("VERTEX_AI_REGION", "us-central1"),
		AnnotateModel:       GetEnv("ANNOTATE_MODEL", "gemini-1.5-pro"),
		AnnotateConcurrency: getEnvInt("ANNOTATE_CONCURRENCY", 2),

		EmbedBaseURL:   GetEnv("EMBED_BASE_URL", "https://api.openai.com/v1"),
		EmbedAPIKey:    GetEnv("EMBED_API_KEY", ""),
		EmbedModel:     GetEnv("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDimension: getEnvInt("EMBED_DIMENSION", 1024),
		EmbedBatchSize: getEnvInt("EMBED_BATCH_SIZE", 32),

		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.30),
		SearchPageSize:      getEnvInt("SEARCH_PAGE_SIZE", 10),
		DownloadBaseURL:     GetEnv("DOWNLOAD_BASE_URL", ""),
	}

	if cfg.AnnotateConcurrency < 1 {
		return nil, fmt.Errorf("ANNOTATE_CONCURRENCY must be at least 1")
	}
	if cfg.EmbedBatchSize < 1 {
		return nil, fmt.Errorf("EMBED_BATCH_SIZE must be at least 1")
	}
	if cfg.SearchPageSize < 1 {
		return nil, fmt.Errorf("SEARCH_PAGE_SIZE must be at least 1")
	}
	return cfg, nil
}

// RequireVertex validates the fields the annotation command depends on.
func (c *Config) RequireVertex() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	return nil
}
