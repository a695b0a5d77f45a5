// Package cache provides in-memory caching for the RAG pipeline.
//
// EmbeddingCache stores query→vector mappings to avoid redundant
// Vertex AI embedding calls for repeated or similar queries.
package cache

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache caches query embedding vectors keyed by normalized query
// hash. It is bounded by size, not time: once full, a Set evicts the
// least-recently-used entry, and a Get promotes its key to most-recently-used.
// Safe for concurrent use; golang-lru guards its own state internally.
type EmbeddingCache struct {
	lru *lru.Cache[string, []float32]
}

// NewEmbeddingCache creates an EmbeddingCache bounded to size entries.
func NewEmbeddingCache(size int) *EmbeddingCache {
	if size <= 0 {
		size = 100
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		// New only errors when size <= 0, which is guarded above.
		panic(fmt.Sprintf("cache.NewEmbeddingCache: %v", err))
	}
	return &EmbeddingCache{lru: c}
}

// Get returns a cached embedding vector if present, promoting it to
// most-recently-used.
func (c *EmbeddingCache) Get(queryHash string) ([]float32, bool) {
	vec, ok := c.lru.Get(queryHash)
	if !ok {
		return nil, false
	}
	slog.Info("[EMBED-CACHE] hit", "query_hash", queryHash)
	return vec, true
}

// Set stores an embedding vector in the cache, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *EmbeddingCache) Set(queryHash string, vec []float32) {
	evicted := c.lru.Add(queryHash, vec)
	slog.Info("[EMBED-CACHE] set", "query_hash", queryHash, "vec_dim", len(vec), "evicted", evicted)
}

// Len returns the number of entries currently in the cache.
func (c *EmbeddingCache) Len() int {
	return c.lru.Len()
}

// EmbeddingQueryHash returns a deterministic cache key for a query string.
// Normalizes by lowercasing and trimming whitespace before hashing.
func EmbeddingQueryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("emb:%x", h[:16])
}
