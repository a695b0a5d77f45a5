package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// DocumentRepo implements service.DocumentRepository with pgx, backing C9's
// ingestion pipeline with Postgres-side document metadata.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Compile-time check that DocumentRepo implements service.DocumentRepository.
var _ service.DocumentRepository = (*DocumentRepo)(nil)

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (
			id, filename, original_name, mime_type, size_bytes, storage_uri,
			extracted_text, index_status, chunk_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`,
		doc.ID, doc.Filename, doc.OriginalName, doc.MimeType, doc.SizeBytes, doc.StorageURI,
		doc.ExtractedText, string(doc.IndexStatus), doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	doc := &model.Document{}
	var indexStatus string
	var failureReason *string

	err := r.pool.QueryRow(ctx, `
		SELECT id, filename, original_name, mime_type, size_bytes, storage_uri,
			extracted_text, index_status, failure_reason, chunk_count, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(
		&doc.ID, &doc.Filename, &doc.OriginalName, &doc.MimeType, &doc.SizeBytes, &doc.StorageURI,
		&doc.ExtractedText, &indexStatus, &failureReason, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}

	doc.IndexStatus = model.IndexStatus(indexStatus)
	if failureReason != nil {
		doc.FailureReason = *failureReason
	}

	return doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, opts service.ListOpts) ([]model.Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.List: count: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, filename, original_name, mime_type, size_bytes, storage_uri,
			index_status, chunk_count, created_at, updated_at
		FROM documents ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.List: query: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var indexStatus string

		if err := rows.Scan(
			&d.ID, &d.Filename, &d.OriginalName, &d.MimeType, &d.SizeBytes, &d.StorageURI,
			&indexStatus, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("repository.List: scan: %w", err)
		}
		d.IndexStatus = model.IndexStatus(indexStatus)
		docs = append(docs, d)
	}

	return docs, total, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.IndexStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET index_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateStatus: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateFailureReason(ctx context.Context, id string, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET failure_reason = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateFailureReason: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateText(ctx context.Context, id, text string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET extracted_text = $1, updated_at = $2 WHERE id = $3`,
		text, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateText: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateChunkCount(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET chunk_count = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateChunkCount: %w", err)
	}
	return nil
}
