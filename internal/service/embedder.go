package service

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/cache"
)

// ErrEmbeddingUnavailable is returned when the embedding backend could not
// be initialized. Wrapped in apperr.EmbeddingUnavailable so handlers can
// recognize it without string matching.
var ErrEmbeddingUnavailable = fmt.Errorf("service.EmbeddingProvider: embedding model unavailable")

// maxBatchSize is the max texts per Vertex AI embedding API call.
const maxBatchSize = 250

// DocumentEmbedder embeds a batch of texts for indexing (RETRIEVAL_DOCUMENT
// task type).
type DocumentEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryEmbedder embeds a batch of texts for search (RETRIEVAL_QUERY task
// type), which Vertex AI's text-embedding-004 family treats asymmetrically
// from document embedding.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore abstracts bulk insertion of chunks with vectors.
type ChunkStore interface {
	BulkInsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error
}

// EmbeddingProvider is C1: embeds single query strings behind a
// most-recently-used cache, and batch-embeds document chunks for ingestion.
// Same input string always yields a byte-identical output vector.
type EmbeddingProvider struct {
	docClient   DocumentEmbedder
	queryClient QueryEmbedder
	dims        int
	cache       *cache.EmbeddingCache
	chunkStore  ChunkStore

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats reports observable cache behavior.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// NewEmbeddingProvider creates an EmbeddingProvider. dims is the expected
// output vector dimensionality (F); cacheSize bounds the MRU cache (S).
func NewEmbeddingProvider(docClient DocumentEmbedder, queryClient QueryEmbedder, chunkStore ChunkStore, dims, cacheSize int) *EmbeddingProvider {
	return &EmbeddingProvider{
		docClient:   docClient,
		queryClient: queryClient,
		dims:        dims,
		cache:       cache.NewEmbeddingCache(cacheSize),
		chunkStore:  chunkStore,
	}
}

// Embed returns an L2-normalized vector of F floats for text, serving from
// the MRU cache on repeat input.
func (p *EmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.queryClient == nil {
		return nil, apperr.New(apperr.EmbeddingUnavailable, ErrEmbeddingUnavailable)
	}

	key := cache.EmbeddingQueryHash(text)
	if vec, ok := p.cache.Get(key); ok {
		p.hits.Add(1)
		return vec, nil
	}
	p.misses.Add(1)

	vectors, err := p.queryClient.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("service.EmbeddingProvider.Embed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("service.EmbeddingProvider.Embed: expected 1 vector, got %d", len(vectors))
	}
	vec := vectors[0]
	if len(vec) != p.dims {
		return nil, fmt.Errorf("service.EmbeddingProvider.Embed: vector has %d dimensions, want %d", len(vec), p.dims)
	}
	vec = l2Normalize(vec)

	p.cache.Set(key, vec)
	return vec, nil
}

// Stats reports cache hit/miss/size counters.
func (p *EmbeddingProvider) Stats() CacheStats {
	return CacheStats{
		Hits:   p.hits.Load(),
		Misses: p.misses.Load(),
		Size:   p.cache.Len(),
	}
}

// EmbedDocuments generates embeddings for a slice of document texts,
// batching as needed. Returns one L2-normalized vector per input text.
func (p *EmbeddingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if p.docClient == nil {
		return nil, apperr.New(apperr.EmbeddingUnavailable, ErrEmbeddingUnavailable)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("service.EmbedDocuments: no texts provided")
	}

	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := p.docClient.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("service.EmbedDocuments: batch %d-%d: %w", i, end, err)
		}

		for j, vec := range vectors {
			if len(vec) != p.dims {
				return nil, fmt.Errorf("service.EmbedDocuments: vector %d has %d dimensions, want %d", i+j, len(vec), p.dims)
			}
			vectors[j] = l2Normalize(vec)
		}

		allVectors = append(allVectors, vectors...)
	}

	if len(allVectors) != len(texts) {
		return nil, fmt.Errorf("service.EmbedDocuments: got %d vectors for %d texts", len(allVectors), len(texts))
	}

	return allVectors, nil
}

// EmbedAndStore generates embeddings for chunks and persists them via
// ChunkStore. Implements the Embedder interface used by PipelineService.
func (p *EmbeddingProvider) EmbedAndStore(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := p.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("service.EmbedAndStore: %w", err)
	}

	if err := p.chunkStore.BulkInsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("service.EmbedAndStore: store: %w", err)
	}

	return nil
}

// l2Normalize normalizes a vector to unit length (L2 norm = 1).
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}
