package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Ingester abstracts document processing for testability.
type Ingester interface {
	ProcessText(ctx context.Context, docID string) error
}

// IngestDeps bundles dependencies for the ingest handler.
type IngestDeps struct {
	DocRepo  service.DocumentRepository
	Pipeline Ingester
}

// IngestRequest is the POST /api/documents/ingest request body: a single
// document's already-extracted text. Source and tags attached to its
// corpus entries are configured once at the DocumentIndexer, not per
// request.
type IngestRequest struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	MimeType string `json:"mimeType"`
}

func validateIngestRequest(req *IngestRequest) string {
	if req.Text == "" {
		return "text is required"
	}
	if req.Title == "" {
		return "title is required"
	}
	return ""
}

// IngestDocument handles POST /api/documents/ingest: registers a document
// with already-extracted text and runs it through C9's chunk/embed/index
// pipeline synchronously, returning the final index status.
func IngestDocument(deps IngestDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if msg := validateIngestRequest(&req); msg != "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: msg})
			return
		}

		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = "text/plain"
		}

		doc := &model.Document{
			ID:            uuid.New().String(),
			Filename:      req.Title,
			OriginalName:  req.Title,
			MimeType:      mimeType,
			ExtractedText: req.Text,
			SizeBytes:     len(req.Text),
			IndexStatus:   model.IndexPending,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}

		if err := deps.DocRepo.Create(r.Context(), doc); err != nil {
			slog.Error("handler.IngestDocument: create failed", "error", err)
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to register document"})
			return
		}

		if err := deps.Pipeline.ProcessText(r.Context(), doc.ID); err != nil {
			slog.Error("handler.IngestDocument: pipeline failed", "error", err, "document_id", doc.ID)
			respondJSON(w, http.StatusUnprocessableEntity, envelope{
				Success: false,
				Error:   "ingestion failed",
				Data:    map[string]string{"documentId": doc.ID},
			})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{
			"documentId": doc.ID,
			"status":     string(model.IndexIndexed),
		}})
	}
}
