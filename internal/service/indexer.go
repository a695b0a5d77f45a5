package service

import (
	"context"
	"fmt"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

// DocumentEmbedBatcher embeds chunk content for indexing. Implemented by
// *EmbeddingProvider.
type DocumentEmbedBatcher interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentIndexer is C9's bridge from the chunking stage to C2: it
// re-derives each chunk's vector and upserts it with the corpus-wide
// metadata shape (text, title, source, tags, type, timestamp). Implements
// PipelineService's Indexer interface.
type DocumentIndexer struct {
	embedder DocumentEmbedBatcher
	upserter VectorUpserter
	source   string
	tags     []string
}

// NewDocumentIndexer creates a DocumentIndexer. source and tags are applied
// to every chunk upserted through it.
func NewDocumentIndexer(embedder DocumentEmbedBatcher, upserter VectorUpserter, source string, tags []string) *DocumentIndexer {
	return &DocumentIndexer{embedder: embedder, upserter: upserter, source: source, tags: tags}
}

// IndexDocument embeds each chunk and upserts it into the VectorIndex with
// type "document" metadata, distinguishing it from feedback corrections.
func (d *DocumentIndexer) IndexDocument(ctx context.Context, doc *model.Document, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := d.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("service.DocumentIndexer.IndexDocument: embed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("service.DocumentIndexer.IndexDocument: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	now := time.Now().Format(time.RFC3339)
	items := make([]vectorindex.UpsertItem, len(chunks))
	for i, c := range chunks {
		items[i] = vectorindex.UpsertItem{
			ID:     fmt.Sprintf("%s-chunk-%d", doc.ID, c.Index),
			Vector: vectors[i],
			Metadata: map[string]any{
				"text":      c.Content,
				"title":     doc.OriginalName,
				"source":    d.source,
				"tags":      d.tags,
				"type":      "document",
				"timestamp": now,
			},
		}
	}

	if err := d.upserter.Upsert(ctx, items); err != nil {
		return fmt.Errorf("service.DocumentIndexer.IndexDocument: upsert: %w", err)
	}
	return nil
}
