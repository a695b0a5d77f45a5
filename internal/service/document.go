package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// StorageClient abstracts Cloud Storage operations for testability.
type StorageClient interface {
	SignedURL(bucket, object string, opts *SignedURLOptions) (string, error)
}

// SignedURLOptions mirrors the options needed for generating signed URLs.
type SignedURLOptions struct {
	Method      string
	Expires     time.Time
	ContentType string
}

// DocumentRepository defines the persistence operations for documents (C9).
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context, opts ListOpts) ([]model.Document, int, error)
	UpdateStatus(ctx context.Context, id string, status model.IndexStatus) error
	UpdateFailureReason(ctx context.Context, id string, reason string) error
	UpdateText(ctx context.Context, id, text string) error
	UpdateChunkCount(ctx context.Context, id string, count int) error
}

// DocSummary is a lightweight document summary for surfacing corpus contents.
type DocSummary struct {
	ID           string
	OriginalName string
	IndexStatus  string
	CreatedAt    string
}

// ListOpts holds pagination and filtering options for document listing.
type ListOpts struct {
	Limit  int
	Offset int
	Search string
}

// SignedURLResponse is returned to the client with the upload URL.
type SignedURLResponse struct {
	URL        string `json:"url"`
	DocumentID string `json:"documentId"`
	ObjectName string `json:"objectName"`
}

// DocumentService handles document upload orchestration for C9.
type DocumentService struct {
	storage    StorageClient
	docRepo    DocumentRepository
	bucketName string
	urlExpiry  time.Duration
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(storage StorageClient, docRepo DocumentRepository, bucketName string, urlExpiry time.Duration) *DocumentService {
	return &DocumentService{
		storage:    storage,
		docRepo:    docRepo,
		bucketName: bucketName,
		urlExpiry:  urlExpiry,
	}
}

// GenerateUploadURL creates a signed PUT URL for direct client upload to Cloud
// Storage and creates a pending document record, ready for the ingestion
// pipeline to pick up once the upload completes.
func (s *DocumentService) GenerateUploadURL(ctx context.Context, filename, contentType string, sizeBytes int) (*SignedURLResponse, error) {
	if !model.AllowedMimeTypes[contentType] {
		return nil, fmt.Errorf("service.GenerateUploadURL: unsupported content type %q", contentType)
	}
	if sizeBytes > model.MaxFileSizeBytes {
		return nil, fmt.Errorf("service.GenerateUploadURL: file size %d exceeds maximum %d bytes", sizeBytes, model.MaxFileSizeBytes)
	}
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("service.GenerateUploadURL: file size must be positive")
	}

	docID := uuid.New().String()
	objectName := fmt.Sprintf("uploads/%s/%s", docID, filename)

	url, err := s.storage.SignedURL(s.bucketName, objectName, &SignedURLOptions{
		Method:      "PUT",
		Expires:     time.Now().Add(s.urlExpiry),
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("service.GenerateUploadURL: sign URL: %w", err)
	}

	doc := &model.Document{
		ID:           docID,
		Filename:     filename,
		OriginalName: filename,
		MimeType:     contentType,
		SizeBytes:    sizeBytes,
		StorageURI:   fmt.Sprintf("gs://%s/%s", s.bucketName, objectName),
		IndexStatus:  model.IndexPending,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("service.GenerateUploadURL: create document: %w", err)
	}

	return &SignedURLResponse{
		URL:        url,
		DocumentID: docID,
		ObjectName: objectName,
	}, nil
}
