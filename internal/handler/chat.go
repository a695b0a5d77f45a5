package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// maxMessageLength bounds the accepted chat message size.
const maxMessageLength = 10000

// ChatOrchestrator is C7 as consumed by the chat handlers, implemented by
// *service.AnswerOrchestrator.
type ChatOrchestrator interface {
	Answer(ctx context.Context, message, conversationID string) (*service.AnswerResult, error)
	AnswerStream(ctx context.Context, message, conversationID string) (<-chan service.StreamFrame, error)
}

// ChatDeps bundles dependencies for the chat handlers.
type ChatDeps struct {
	Orchestrator ChatOrchestrator
}

// ChatRequest is the POST /api/chat and /api/chat/stream request body.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// ChatResponse is the POST /api/chat response body.
type ChatResponse struct {
	Blocks    []model.Block  `json:"blocks"`
	Sources   []model.Source `json:"sources"`
	Mode      string         `json:"mode"`
	RequestID string         `json:"requestId"`
}

func decodeChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

func validateChatRequest(req *ChatRequest) string {
	if req.Message == "" {
		return "message is required"
	}
	if len(req.Message) > maxMessageLength {
		return fmt.Sprintf("message exceeds %d character limit", maxMessageLength)
	}
	return ""
}

// Chat handles POST /api/chat: a single buffered answer.
func Chat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeChatRequest(r)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if msg := validateChatRequest(req); msg != "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: msg})
			return
		}

		res, err := deps.Orchestrator.Answer(r.Context(), req.Message, req.ConversationID)
		if err != nil {
			slog.Error("handler.Chat: answer failed", "error", err)
			status := apperr.KindOf(err).HTTPStatus()
			if status == http.StatusOK {
				status = http.StatusInternalServerError
			}
			respondJSON(w, status, envelope{Success: false, Error: "failed to generate answer"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: ChatResponse{
			Blocks:    res.Blocks,
			Sources:   res.Sources,
			Mode:      res.Mode,
			RequestID: res.RequestID,
		}})
	}
}

// ChatStream handles POST /api/chat/stream: Server-Sent Events, one event
// per frame (meta, chunk, error, done).
func ChatStream(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeChatRequest(r)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if msg := validateChatRequest(req); msg != "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: msg})
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "streaming unsupported"})
			return
		}

		frames, err := deps.Orchestrator.AnswerStream(r.Context(), req.Message, req.ConversationID)
		if err != nil {
			slog.Error("handler.ChatStream: stream start failed", "error", err)
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to start stream"})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for frame := range frames {
			sendSSEFrame(w, flusher, frame)
		}
	}
}

func sendSSEFrame(w http.ResponseWriter, flusher http.Flusher, frame service.StreamFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Error("handler.sendSSEFrame: marshal failed", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, payload)
	flusher.Flush()
}
