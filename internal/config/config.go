package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int
	// AdminDatabaseURL, when set, lets the admin migration endpoint repair
	// table/enum ownership before running migrations as DBOwner.
	AdminDatabaseURL string
	DBOwner          string

	GCPProject            string
	VertexAILocation      string
	VertexAIModel         string
	VertexAIFallbackModel string
	EmbeddingLocation     string
	EmbeddingModel        string
	EmbeddingDims         int

	PineconeAPIKey string
	PineconeIndex  string

	EmbeddingCacheSize int
	ConversationWindow int
	MaxHops            int

	SimilarityThreshold float64

	ChunkSizeTokens     int
	ChunkOverlapPercent int

	InternalAuthSecret string
	FrontendURL        string
}

// Load reads configuration from environment variables.
// Required variables (DATABASE_URL, GOOGLE_CLOUD_PROJECT, PINECONE_API_KEY,
// PINECONE_INDEX, and INTERNAL_AUTH_SECRET outside the development
// environment) cause an error if missing. Optional variables use sensible
// defaults.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		AdminDatabaseURL: os.Getenv("ADMIN_DATABASE_URL"),
		DBOwner:          envStr("DB_OWNER", "ragbox_app"),

		GCPProject:            gcpProject,
		VertexAILocation:      envStr("VERTEX_AI_LOCATION", "us-east4"),
		VertexAIModel:         envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		VertexAIFallbackModel: envStr("VERTEX_AI_FALLBACK_MODEL", ""),
		EmbeddingLocation:     envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("VERTEX_AI_LOCATION", "us-east4")),
		EmbeddingModel:        envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDims:         envInt("EMBEDDING_DIMENSIONS", 1024),

		PineconeAPIKey: os.Getenv("PINECONE_API_KEY"),
		PineconeIndex:  os.Getenv("PINECONE_INDEX"),

		EmbeddingCacheSize: envInt("EMBEDDING_CACHE_SIZE", 100),
		ConversationWindow: envInt("CONVERSATION_WINDOW", 6),
		MaxHops:            envInt("MAX_HOPS", 1),

		SimilarityThreshold: envFloat("RAG_SIMILARITY_THRESHOLD", 0.5),

		ChunkSizeTokens:     envInt("CHUNK_SIZE_TOKENS", 768),
		ChunkOverlapPercent: envInt("CHUNK_OVERLAP_PERCENT", 20),

		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
		FrontendURL:        envStr("FRONTEND_URL", "http://localhost:3000"),
	}

	// Internal auth secret is required in non-development environments
	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	if cfg.PineconeAPIKey == "" {
		return nil, fmt.Errorf("config.Load: PINECONE_API_KEY is required")
	}
	if cfg.PineconeIndex == "" {
		return nil, fmt.Errorf("config.Load: PINECONE_INDEX is required")
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
