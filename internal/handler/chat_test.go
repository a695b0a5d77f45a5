package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

type fakeOrchestrator struct {
	answer    *service.AnswerResult
	answerErr error
	frames    []service.StreamFrame
	streamErr error
}

func (f *fakeOrchestrator) Answer(ctx context.Context, message, conversationID string) (*service.AnswerResult, error) {
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return f.answer, nil
}

func (f *fakeOrchestrator) AnswerStream(ctx context.Context, message, conversationID string) (<-chan service.StreamFrame, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan service.StreamFrame, len(f.frames))
	for _, fr := range f.frames {
		ch <- fr
	}
	close(ch)
	return ch, nil
}

func postChat(t *testing.T, h http.HandlerFunc, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestChat_Success(t *testing.T) {
	orch := &fakeOrchestrator{answer: &service.AnswerResult{
		Blocks:    []model.Block{model.Paragraph("hi there")},
		Sources:   []model.Source{},
		Mode:      "general",
		RequestID: "abc123",
	}}
	rec := postChat(t, Chat(ChatDeps{Orchestrator: orch}), map[string]interface{}{"message": "hello"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.Success {
		t.Fatalf("envelope.Success = false, body=%s", rec.Body.String())
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	rec := postChat(t, Chat(ChatDeps{Orchestrator: &fakeOrchestrator{}}), map[string]interface{}{"message": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChat_MessageTooLong(t *testing.T) {
	rec := postChat(t, Chat(ChatDeps{Orchestrator: &fakeOrchestrator{}}), map[string]interface{}{
		"message": strings.Repeat("a", maxMessageLength+1),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChat_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	Chat(ChatDeps{Orchestrator: &fakeOrchestrator{}})(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChat_OrchestratorError(t *testing.T) {
	orch := &fakeOrchestrator{answerErr: errors.New("boom")}
	rec := postChat(t, Chat(ChatDeps{Orchestrator: orch}), map[string]interface{}{"message": "hello"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestChatStream_SendsSSEFrames(t *testing.T) {
	orch := &fakeOrchestrator{frames: []service.StreamFrame{
		{Type: "meta", Mode: "general", RequestID: "req-1"},
		{Type: "chunk", Data: "hello"},
		{Type: "chunk", Data: " world"},
		{Type: "done"},
	}}

	b, _ := json.Marshal(map[string]interface{}{"message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	ChatStream(ChatDeps{Orchestrator: orch})(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if conn := rec.Header().Get("Connection"); conn != "keep-alive" {
		t.Errorf("Connection = %q, want keep-alive", conn)
	}
	if xab := rec.Header().Get("X-Accel-Buffering"); xab != "no" {
		t.Errorf("X-Accel-Buffering = %q, want no", xab)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4", len(events))
	}
	if events[0].event != "meta" {
		t.Errorf("events[0].event = %q, want meta", events[0].event)
	}
	var metaFrame service.StreamFrame
	if err := json.Unmarshal([]byte(events[0].data), &metaFrame); err != nil {
		t.Fatalf("unmarshal meta frame: %v", err)
	}
	if metaFrame.RequestID != "req-1" {
		t.Errorf("meta.RequestID = %q, want req-1", metaFrame.RequestID)
	}
	if events[3].event != "done" {
		t.Errorf("events[3].event = %q, want done", events[3].event)
	}
}

func TestChatStream_StartError(t *testing.T) {
	orch := &fakeOrchestrator{streamErr: errors.New("boom")}
	b, _ := json.Marshal(map[string]interface{}{"message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	ChatStream(ChatDeps{Orchestrator: orch})(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

type sseEvent struct {
	event string
	data  string
}

func parseSSE(t *testing.T, raw string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event != "" {
				events = append(events, cur)
				cur = sseEvent{}
			}
		}
	}
	return events
}
