package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

var (
	processingMu sync.Mutex
	processing   = make(map[string]bool)
)

// Parser abstracts document text extraction.
type Parser interface {
	Extract(ctx context.Context, gcsURI string) (*ParseResult, error)
}

// Chunker abstracts document chunking.
type Chunker interface {
	Chunk(ctx context.Context, text string, docID string) ([]Chunk, error)
}

// Chunk represents a chunked piece of text (used by the pipeline).
type Chunk struct {
	Content      string
	ContentHash  string
	TokenCount   int
	Index        int
	DocumentID   string
	PageNumber   int
	SectionTitle string
}

// Embedder abstracts vector embedding and storage, composing C1 with a
// ChunkStore and the C2 VectorIndex upsert path.
type Embedder interface {
	EmbedAndStore(ctx context.Context, chunks []Chunk) error
}

// Indexer upserts chunked document content into the VectorIndex (C2) with
// the metadata shape shared across the corpus: text, title, source, tags,
// type, timestamp.
type Indexer interface {
	IndexDocument(ctx context.Context, doc *model.Document, chunks []Chunk) error
}

// PipelineService runs C9's document ingestion pipeline: parse → chunk →
// embed → index → update status.
type PipelineService struct {
	docRepo    DocumentRepository
	parser     Parser
	chunker    Chunker
	embedder   Embedder
	indexer    Indexer
	bucketName string
}

// NewPipelineService creates a PipelineService with all required dependencies.
func NewPipelineService(
	docRepo DocumentRepository,
	parser Parser,
	chunker Chunker,
	embedder Embedder,
	indexer Indexer,
	bucketName string,
) *PipelineService {
	return &PipelineService{
		docRepo:    docRepo,
		parser:     parser,
		chunker:    chunker,
		embedder:   embedder,
		indexer:    indexer,
		bucketName: bucketName,
	}
}

// ProcessDocument runs the full ingestion pipeline for a document. It is
// designed to be called asynchronously (via goroutine) after upload.
func (s *PipelineService) ProcessDocument(ctx context.Context, docID string) error {
	processingMu.Lock()
	if processing[docID] {
		processingMu.Unlock()
		return fmt.Errorf("document %s is already being processed", docID)
	}
	processing[docID] = true
	processingMu.Unlock()

	defer func() {
		processingMu.Lock()
		delete(processing, docID)
		processingMu.Unlock()
	}()

	slog.Info("pipeline starting", "document_id", docID)

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		slog.Error("pipeline failed to get document", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline.ProcessDocument: get document: %w", err)
	}
	slog.Info("pipeline processing document", "document_id", docID, "filename", doc.Filename, "mime_type", doc.MimeType, "size_bytes", doc.SizeBytes)

	if err := s.docRepo.UpdateStatus(ctx, docID, model.IndexProcessing); err != nil {
		slog.Error("pipeline failed to update status", "document_id", docID, "target_status", "processing", "error", err)
		return fmt.Errorf("pipeline.ProcessDocument: set processing: %w", err)
	}

	// Step 1: Parse — extract text
	slog.Info("pipeline step 1: extracting text", "document_id", docID, "gcs_uri", doc.StorageURI)
	parsed, err := s.parser.Extract(ctx, doc.StorageURI)
	if err != nil {
		slog.Error("pipeline text extraction failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "parse_failed", err)
		return fmt.Errorf("pipeline.ProcessDocument: parse: %w", err)
	}
	slog.Info("pipeline text extracted", "document_id", docID, "chars", len(parsed.Text), "pages", parsed.Pages)

	// Step 2: Store extracted text
	slog.Info("pipeline step 2: storing extracted text", "document_id", docID)
	if err := s.docRepo.UpdateText(ctx, docID, parsed.Text); err != nil {
		slog.Error("pipeline failed to store extracted text", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "store_text_failed", err)
		return fmt.Errorf("pipeline.ProcessDocument: store text: %w", err)
	}

	// Step 3: Chunk
	slog.Info("pipeline step 3: chunking text", "document_id", docID, "chars", len(parsed.Text))
	chunks, err := s.chunker.Chunk(ctx, parsed.Text, docID)
	if err != nil {
		slog.Error("pipeline chunking failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "chunk_failed", err)
		return fmt.Errorf("pipeline.ProcessDocument: chunk: %w", err)
	}
	slog.Info("pipeline chunks created", "document_id", docID, "chunk_count", len(chunks))

	// Step 4: Embed and store vectors at rest
	slog.Info("pipeline step 4: generating embeddings", "document_id", docID, "chunk_count", len(chunks))
	if err := s.embedder.EmbedAndStore(ctx, chunks); err != nil {
		slog.Error("pipeline embedding failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "embed_failed", err)
		return fmt.Errorf("pipeline.ProcessDocument: embed: %w", err)
	}

	// Step 5: Upsert into the VectorIndex corpus
	slog.Info("pipeline step 5: indexing document", "document_id", docID, "chunk_count", len(chunks))
	if err := s.indexer.IndexDocument(ctx, doc, chunks); err != nil {
		slog.Error("pipeline indexing failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "index_failed", err)
		return fmt.Errorf("pipeline.ProcessDocument: index: %w", err)
	}
	slog.Info("pipeline embeddings stored and indexed", "document_id", docID)

	// Step 6: Update status to Indexed
	if err := s.docRepo.UpdateStatus(ctx, docID, model.IndexIndexed); err != nil {
		slog.Error("pipeline failed to update status to indexed", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline.ProcessDocument: set indexed: %w", err)
	}
	if err := s.docRepo.UpdateChunkCount(ctx, docID, len(chunks)); err != nil {
		slog.Warn("pipeline failed to update chunk count", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline.ProcessDocument: update chunk count: %w", err)
	}

	slog.Info("pipeline completed", "document_id", docID, "chunk_count", len(chunks))
	return nil
}

// failDocument sets the document status to Failed and records the stage
// that failed.
func (s *PipelineService) failDocument(ctx context.Context, docID, stage string, origErr error) {
	_ = s.docRepo.UpdateStatus(ctx, docID, model.IndexFailed)
	_ = s.docRepo.UpdateFailureReason(ctx, docID, fmt.Sprintf("%s: %v", stage, origErr))
}

// ProcessText runs a simplified ingestion pipeline for a document whose text
// has already been extracted (e.g. webhook knowledge ingestion), skipping
// the parse step entirely.
func (s *PipelineService) ProcessText(ctx context.Context, docID string) error {
	processingMu.Lock()
	if processing[docID] {
		processingMu.Unlock()
		return fmt.Errorf("document %s is already being processed", docID)
	}
	processing[docID] = true
	processingMu.Unlock()

	defer func() {
		processingMu.Lock()
		delete(processing, docID)
		processingMu.Unlock()
	}()

	slog.Info("text pipeline starting", "document_id", docID)

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		slog.Error("text pipeline failed to get document", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline.ProcessText: get document: %w", err)
	}

	if doc.ExtractedText == "" {
		s.failDocument(ctx, docID, "no_text", fmt.Errorf("extractedText is empty"))
		return fmt.Errorf("pipeline.ProcessText: no extracted text for document %s", docID)
	}
	text := doc.ExtractedText

	if err := s.docRepo.UpdateStatus(ctx, docID, model.IndexProcessing); err != nil {
		slog.Error("text pipeline failed to update status", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline.ProcessText: set processing: %w", err)
	}

	slog.Info("text pipeline chunking", "document_id", docID, "chars", len(text))
	chunks, err := s.chunker.Chunk(ctx, text, docID)
	if err != nil {
		slog.Error("text pipeline chunking failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "chunk_failed", err)
		return fmt.Errorf("pipeline.ProcessText: chunk: %w", err)
	}
	slog.Info("text pipeline chunks created", "document_id", docID, "chunk_count", len(chunks))

	slog.Info("text pipeline embedding", "document_id", docID, "chunk_count", len(chunks))
	if err := s.embedder.EmbedAndStore(ctx, chunks); err != nil {
		slog.Error("text pipeline embedding failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "embed_failed", err)
		return fmt.Errorf("pipeline.ProcessText: embed: %w", err)
	}

	if err := s.indexer.IndexDocument(ctx, doc, chunks); err != nil {
		slog.Error("text pipeline indexing failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "index_failed", err)
		return fmt.Errorf("pipeline.ProcessText: index: %w", err)
	}

	if err := s.docRepo.UpdateStatus(ctx, docID, model.IndexIndexed); err != nil {
		slog.Error("text pipeline failed to set indexed", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline.ProcessText: set indexed: %w", err)
	}
	if err := s.docRepo.UpdateChunkCount(ctx, docID, len(chunks)); err != nil {
		slog.Warn("text pipeline failed to update chunk count", "document_id", docID, "error", err)
	}

	slog.Info("text pipeline completed", "document_id", docID, "chunk_count", len(chunks))
	return nil
}
