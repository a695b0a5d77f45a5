package model

import "time"

type IndexStatus string

const (
	IndexPending    IndexStatus = "Pending"
	IndexProcessing IndexStatus = "Processing"
	IndexIndexed    IndexStatus = "Indexed"
	IndexFailed     IndexStatus = "Failed"
)

// Document represents a source file ingested into the retrieval corpus.
type Document struct {
	ID            string      `json:"id"`
	Filename      string      `json:"filename"`
	OriginalName  string      `json:"originalName"`
	MimeType      string      `json:"mimeType"`
	SizeBytes     int         `json:"sizeBytes"`
	StorageURI    string      `json:"-"`
	ExtractedText string      `json:"-"`
	IndexStatus   IndexStatus `json:"indexStatus"`
	FailureReason string      `json:"failureReason,omitempty"`
	ChunkCount    int         `json:"chunkCount"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// DocumentChunk is a chunked piece of a Document with its embedding vector.
// The vector is stored alongside the content so the ingestion path can
// upsert it into the VectorIndex (C2) without a second embedding round-trip.
type DocumentChunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	ChunkIndex  int       `json:"chunkIndex"`
	Content     string    `json:"content"`
	ContentHash string    `json:"contentHash"`
	TokenCount  int       `json:"tokenCount"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AllowedMimeTypes lists the mime types accepted for ingestion.
var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
	"text/csv":   true,
}

// MaxFileSizeBytes is the maximum allowed ingestion upload size (50 MB).
const MaxFileSizeBytes = 50 * 1024 * 1024
