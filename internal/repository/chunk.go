package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// ChunkRepo implements service.ChunkStore, storing chunk content and
// embeddings at rest in Postgres. The hot retrieval path queries the
// Pinecone-backed VectorIndex (C2) instead; this table is the system of
// record chunk embeddings are upserted from.
type ChunkRepo struct {
	pool *pgxpool.Pool
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

// Compile-time check.
var _ service.ChunkStore = (*ChunkRepo)(nil)

// BulkInsert stores chunks with their embedding vectors using pgx batching.
func (r *ChunkRepo) BulkInsert(ctx context.Context, chunks []service.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("repository.BulkInsert: chunk count (%d) != vector count (%d)", len(chunks), len(vectors))
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for i, c := range chunks {
		id := uuid.New().String()
		embedding := pgvector.NewVector(vectors[i])

		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, chunk_index, content, content_hash, token_count, page_number, section_title, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, c.DocumentID, c.Index, c.Content, c.ContentHash, c.TokenCount, c.PageNumber, c.SectionTitle, embedding, now,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.BulkInsert: chunk %d: %w", i, err)
		}
	}

	return nil
}

// DeleteByDocumentID removes all chunks for a document.
func (r *ChunkRepo) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("repository.DeleteByDocumentID: %w", err)
	}
	return nil
}

// CountByDocumentID returns the number of chunks for a document.
func (r *ChunkRepo) CountByDocumentID(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository.CountByDocumentID: %w", err)
	}
	return count, nil
}
