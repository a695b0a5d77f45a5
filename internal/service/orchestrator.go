package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/cache"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// conversationMemory is the shape of C8 as consumed by the orchestrator.
type conversationMemory = cache.ConversationMemory[model.ConversationEntry]

const (
	modeGeneral   = "general"
	modeKnowledge = "knowledge"
	modeRag       = "rag"

	defaultMaxHops             = 1
	defaultSimilarityThreshold = 0.5
)

const noContextMessage = "I don't have that information in the knowledge base yet."

// generalModePatterns are substrings that route a message to the general
// (non-retrieval) path. Anything else is treated as a knowledge query.
var generalModePatterns = []string{
	"hello", "hi there", "hey", "thanks", "thank you", "how are you",
	"good morning", "good afternoon", "good evening", "who are you",
	"what can you do", "goodbye", "bye",
}

const generalSystemPrompt = `You are a helpful assistant for general conversation, not backed by any retrieved documents. Respond with JSON only, no prose, in the exact shape: {"blocks": [{"type": "paragraph", "content": "..."}]}.`

func ragSystemPrompt(contextStr string) string {
	return "You answer questions using only the supplied context. If the context does not contain the answer, say so plainly rather than speculating. Respond with JSON only, no prose, in the exact shape: " +
		`{"blocks": [{"type": "paragraph|list|code|heading", "content": "...", "items": ["..."], "language": "..."}]}.` +
		"\n\n=== CONTEXT ===\n" + contextStr
}

// StreamFrame is one unit of an AnswerStream response.
type StreamFrame struct {
	Type       string         `json:"type"` // "meta", "chunk", "error", or "done"
	Mode       string         `json:"mode,omitempty"`
	Sources    []model.Source `json:"sources,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	ResponseID string         `json:"responseId,omitempty"`
	Data       string         `json:"data,omitempty"`
}

// GenAIClient abstracts the generative model AnswerOrchestrator and
// MultiHopController both invoke, for testability.
type GenAIClient interface {
	GenerateContent(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// StreamingGenAIClient is implemented by LLM clients that can stream
// generation chunk by chunk. AnswerOrchestrator falls back to a single
// buffered chunk when the configured client doesn't implement it.
type StreamingGenAIClient interface {
	GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)
}

// AnswerResult is the buffered outcome of AnswerOrchestrator.Answer.
type AnswerResult struct {
	Blocks    []model.Block
	Sources   []model.Source
	Mode      string
	RequestID string
	// ResponseID identifies the logged Response row, empty when the answer
	// was not evidence-backed (general mode, or no hop ever ran).
	ResponseID string
}

// ResponseLedger is the subset of C4 the orchestrator writes completed
// RAG answers and their evidence chains through.
type ResponseLedger interface {
	LogResponse(ctx context.Context, r model.Response) error
	LogEvidenceChain(ctx context.Context, ec model.EvidenceChain) error
}

// FallbackRecorder is the C11 metrics hook fired whenever the orchestrator
// answers with noContextMessage instead of a retrieved answer.
type FallbackRecorder interface {
	IncrementFallbackTrigger()
}

// AnswerOrchestrator is C7: the entry point that detects mode, drives C6 for
// knowledge queries, assembles prompts, invokes the LLM, and parses its
// structured output.
type AnswerOrchestrator struct {
	mh        *MultiHopController
	memory    *conversationMemory
	llm       GenAIClient
	ledger    ResponseLedger
	metrics   FallbackRecorder
	threshold float64
}

// NewAnswerOrchestrator creates an AnswerOrchestrator. threshold <= 0 uses
// the default of 0.5. ledger may be nil, in which case Responses and
// EvidenceChains are not logged and ResponseID is left empty. metrics may
// also be nil.
func NewAnswerOrchestrator(mh *MultiHopController, memory *conversationMemory, llm GenAIClient, ledger ResponseLedger, metrics FallbackRecorder, threshold float64) *AnswerOrchestrator {
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}
	return &AnswerOrchestrator{mh: mh, memory: memory, llm: llm, ledger: ledger, metrics: metrics, threshold: threshold}
}

func (o *AnswerOrchestrator) recordFallback() {
	if o.metrics != nil {
		o.metrics.IncrementFallbackTrigger()
	}
}

// logAnswer writes the Response and EvidenceChain rows for a completed
// RAG-mode answer, returning the new Response's ID. Logging failures are
// warned, not fatal: the answer has already been produced and should still
// reach the caller.
func (o *AnswerOrchestrator) logAnswer(ctx context.Context, mh *MultiHopResult, content string, confidence *float64) string {
	if o.ledger == nil {
		return ""
	}
	return o.logAnswerWithID(ctx, uuid.New().String(), mh, content, confidence)
}

// logAnswerWithID is logAnswer with a caller-supplied Response ID, so a
// streaming caller can surface the ID in its "meta" frame before the
// Response row exists.
func (o *AnswerOrchestrator) logAnswerWithID(ctx context.Context, responseID string, mh *MultiHopResult, content string, confidence *float64) string {
	if o.ledger == nil {
		return ""
	}
	score := 0.0
	if confidence != nil {
		score = *confidence
	}

	if err := o.ledger.LogResponse(ctx, model.Response{
		ID:        responseID,
		QueryID:   mh.QueryID,
		Content:   content,
		Timestamp: time.Now(),
	}); err != nil {
		slog.Warn("service.AnswerOrchestrator: log response failed", "error", err)
		return ""
	}

	if err := o.ledger.LogEvidenceChain(ctx, model.EvidenceChain{
		ID:              uuid.New().String(),
		ResponseID:      responseID,
		HopIDs:          mh.HopIDs,
		DocumentIDs:     documentIDs(mh.Results),
		ConfidenceScore: score,
	}); err != nil {
		slog.Warn("service.AnswerOrchestrator: log evidence chain failed", "error", err)
	}

	return responseID
}

func documentIDs(results []model.HybridResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids
}

// Answer is the buffered entry point. conversationID may be empty, in which
// case it defaults to the generated request ID.
func (o *AnswerOrchestrator) Answer(ctx context.Context, message, conversationID string) (*AnswerResult, error) {
	requestID := newRequestID()
	if conversationID == "" {
		conversationID = requestID
	}

	window := o.memory.Window(conversationID)

	if detectMode(message) == modeGeneral {
		blocks, err := o.generalAnswer(ctx, message, window)
		if err != nil {
			return nil, fmt.Errorf("service.AnswerOrchestrator.Answer: %w", err)
		}
		o.persistTurn(conversationID, message, blocks)
		return &AnswerResult{Blocks: blocks, Sources: []model.Source{}, Mode: modeGeneral, RequestID: requestID}, nil
	}

	mh, err := o.mh.Run(ctx, message, defaultMaxHops)
	if err != nil {
		return nil, fmt.Errorf("service.AnswerOrchestrator.Answer: %w", err)
	}

	highest := GetHighestScore(mh.Results)
	if !shouldUseRag(highest, o.threshold) {
		o.recordFallback()
		return fallbackResult(requestID), nil
	}

	contextStr, sources := buildRagContext(mh.Results, o.threshold)
	if strings.TrimSpace(contextStr) == "" {
		o.recordFallback()
		return fallbackResult(requestID), nil
	}

	blocks, err := o.ragAnswer(ctx, message, contextStr, window)
	if err != nil {
		return nil, fmt.Errorf("service.AnswerOrchestrator.Answer: %w", err)
	}
	o.persistTurn(conversationID, message, blocks)
	responseID := o.logAnswer(ctx, mh, blocksToText(blocks), highest)

	return &AnswerResult{Blocks: blocks, Sources: sources, Mode: modeRag, RequestID: requestID, ResponseID: responseID}, nil
}

// AnswerStream is the streaming entry point. The returned channel is closed
// after the "done" frame is sent.
func (o *AnswerOrchestrator) AnswerStream(ctx context.Context, message, conversationID string) (<-chan StreamFrame, error) {
	requestID := newRequestID()
	if conversationID == "" {
		conversationID = requestID
	}

	window := o.memory.Window(conversationID)
	frames := make(chan StreamFrame, 8)

	if detectMode(message) == modeGeneral {
		go o.streamGeneral(ctx, frames, requestID, conversationID, message, window)
		return frames, nil
	}

	mh, err := o.mh.Run(ctx, message, defaultMaxHops)
	if err != nil {
		return nil, fmt.Errorf("service.AnswerOrchestrator.AnswerStream: %w", err)
	}

	highest := GetHighestScore(mh.Results)
	if !shouldUseRag(highest, o.threshold) {
		o.recordFallback()
		go streamFallback(frames, requestID)
		return frames, nil
	}

	contextStr, sources := buildRagContext(mh.Results, o.threshold)
	if strings.TrimSpace(contextStr) == "" {
		o.recordFallback()
		go streamFallback(frames, requestID)
		return frames, nil
	}

	go o.streamRag(ctx, frames, requestID, conversationID, message, contextStr, sources, window, mh, highest)
	return frames, nil
}

func (o *AnswerOrchestrator) generalAnswer(ctx context.Context, message string, window []model.ConversationEntry) ([]model.Block, error) {
	raw, err := o.llm.GenerateContent(ctx, generalSystemPrompt, buildConversationPrompt(message, window))
	if err != nil {
		return nil, fmt.Errorf("general answer: %w", apperr.New(apperr.LlmCallFailure, err))
	}
	return parseLlmJsonResponse(raw), nil
}

func (o *AnswerOrchestrator) ragAnswer(ctx context.Context, message, contextStr string, window []model.ConversationEntry) ([]model.Block, error) {
	raw, err := o.llm.GenerateContent(ctx, ragSystemPrompt(contextStr), buildConversationPrompt(message, window))
	if err != nil {
		return nil, fmt.Errorf("rag answer: %w", apperr.New(apperr.LlmCallFailure, err))
	}
	return parseLlmJsonResponse(raw), nil
}

func (o *AnswerOrchestrator) streamGeneral(ctx context.Context, frames chan<- StreamFrame, requestID, conversationID, message string, window []model.ConversationEntry) {
	defer close(frames)
	frames <- StreamFrame{Type: "meta", Mode: modeGeneral, Sources: []model.Source{}, RequestID: requestID}

	fullContent := o.streamLLM(ctx, frames, generalSystemPrompt, buildConversationPrompt(message, window))
	frames <- StreamFrame{Type: "done"}

	if fullContent != "" {
		o.persistTurn(conversationID, message, []model.Block{model.Paragraph(fullContent)})
	}
}

func (o *AnswerOrchestrator) streamRag(ctx context.Context, frames chan<- StreamFrame, requestID, conversationID, message, contextStr string, sources []model.Source, window []model.ConversationEntry, mh *MultiHopResult, confidence *float64) {
	defer close(frames)
	responseID := uuid.New().String()
	frames <- StreamFrame{Type: "meta", Mode: modeRag, Sources: sources, RequestID: requestID, ResponseID: responseID}

	fullContent := o.streamLLM(ctx, frames, ragSystemPrompt(contextStr), buildConversationPrompt(message, window))
	frames <- StreamFrame{Type: "done"}

	if fullContent != "" {
		o.persistTurn(conversationID, message, []model.Block{model.Paragraph(fullContent)})
		o.logAnswerWithID(ctx, responseID, mh, fullContent, confidence)
	}
}

// streamLLM forwards chunks from the LLM client to frames as they arrive,
// falling back to a single buffered chunk when the client cannot stream. A
// cancelled context finalises whatever has been emitted so far.
func (o *AnswerOrchestrator) streamLLM(ctx context.Context, frames chan<- StreamFrame, systemPrompt, userPrompt string) string {
	sc, ok := o.llm.(StreamingGenAIClient)
	if !ok {
		raw, err := o.llm.GenerateContent(ctx, systemPrompt, userPrompt)
		if err != nil {
			slog.Warn("service.AnswerOrchestrator: generation failed", "error", err)
			frames <- StreamFrame{Type: "error", Data: apperr.New(apperr.LlmCallFailure, err).Error()}
			return ""
		}
		frames <- StreamFrame{Type: "chunk", Data: raw}
		return raw
	}

	chunkCh, errCh := sc.GenerateContentStream(ctx, systemPrompt, userPrompt)
	var sb strings.Builder

	for chunkCh != nil || errCh != nil {
		select {
		case chunk, open := <-chunkCh:
			if !open {
				chunkCh = nil
				continue
			}
			sb.WriteString(chunk)
			frames <- StreamFrame{Type: "chunk", Data: chunk}
		case err, open := <-errCh:
			if !open {
				errCh = nil
				continue
			}
			if err != nil {
				slog.Warn("service.AnswerOrchestrator: stream error", "error", err)
				frames <- StreamFrame{Type: "error", Data: apperr.New(apperr.LlmCallFailure, err).Error()}
			}
		case <-ctx.Done():
			return sb.String()
		}
	}
	return sb.String()
}

func (o *AnswerOrchestrator) persistTurn(conversationID, message string, blocks []model.Block) {
	o.memory.Append(conversationID, model.ConversationEntry{Role: model.RoleUser, Content: message})
	o.memory.Append(conversationID, model.ConversationEntry{Role: model.RoleAssistant, Content: blocksToText(blocks)})
}

func streamFallback(frames chan<- StreamFrame, requestID string) {
	defer close(frames)
	frames <- StreamFrame{Type: "meta", Mode: modeRag, Sources: []model.Source{}, RequestID: requestID}
	frames <- StreamFrame{Type: "chunk", Data: noContextMessage}
	frames <- StreamFrame{Type: "done"}
}

func fallbackResult(requestID string) *AnswerResult {
	return &AnswerResult{
		Blocks:    []model.Block{model.Paragraph(noContextMessage)},
		Sources:   []model.Source{},
		Mode:      modeRag,
		RequestID: requestID,
	}
}

func shouldUseRag(highest *float64, threshold float64) bool {
	return highest != nil && *highest >= threshold
}

// buildRagContext keeps HybridResults scoring at or above threshold,
// concatenating their metadata.text separated by blank lines, and returns a
// parallel Source slice for response provenance.
func buildRagContext(results []model.HybridResult, threshold float64) (string, []model.Source) {
	var textParts []string
	sources := make([]model.Source, 0)
	for _, r := range results {
		if r.FinalScore < threshold {
			continue
		}
		if text, ok := r.Metadata["text"].(string); ok && text != "" {
			textParts = append(textParts, text)
		}
		sources = append(sources, sourceFromResult(r))
	}
	return strings.Join(textParts, "\n\n"), sources
}

func sourceFromResult(r model.HybridResult) model.Source {
	title, _ := r.Metadata["title"].(string)
	src, _ := r.Metadata["source"].(string)
	return model.Source{Title: title, Source: src, Score: r.FinalScore}
}

func buildConversationPrompt(message string, window []model.ConversationEntry) string {
	var sb strings.Builder
	if len(window) > 0 {
		sb.WriteString("=== CONVERSATION HISTORY ===\n")
		for _, e := range window {
			sb.WriteString(string(e.Role))
			sb.WriteString(": ")
			sb.WriteString(e.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("=== MESSAGE ===\n")
	sb.WriteString(message)
	return sb.String()
}

func blocksToText(blocks []model.Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Content != "" {
			parts = append(parts, b.Content)
		}
		parts = append(parts, b.Items...)
	}
	return strings.Join(parts, "\n")
}

// detectMode is a deterministic, keyword-based classifier between casual
// conversation and a question requiring retrieval.
func detectMode(message string) string {
	trimmed := strings.ToLower(strings.TrimSpace(message))
	if trimmed == "" {
		return modeGeneral
	}
	for _, p := range generalModePatterns {
		if strings.Contains(trimmed, p) {
			return modeGeneral
		}
	}
	return modeKnowledge
}

// newRequestID draws the first 8 hex characters of a fresh UUID.
func newRequestID() string {
	return uuid.New().String()[:8]
}

type blocksJSON struct {
	Blocks []blockJSON `json:"blocks"`
}

type blockJSON struct {
	Type     string   `json:"type"`
	Content  string   `json:"content"`
	Items    []string `json:"items"`
	Language string   `json:"language"`
}

// parseLlmJsonResponse never fails: on any parse error, or when the parsed
// value has no usable blocks array, the raw text is wrapped as a single
// paragraph.
func parseLlmJsonResponse(raw string) []model.Block {
	cleaned := stripCodeFences(raw)

	var parsed blocksJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil || len(parsed.Blocks) == 0 {
		return []model.Block{model.Paragraph(raw)}
	}

	blocks := make([]model.Block, 0, len(parsed.Blocks))
	for _, b := range parsed.Blocks {
		t := model.BlockType(b.Type)
		if t == "" {
			t = model.BlockParagraph
		}
		blocks = append(blocks, model.Block{Type: t, Content: b.Content, Items: b.Items, Language: b.Language})
	}
	return blocks
}
