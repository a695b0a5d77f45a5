package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

const (
	replayTopK        = 5
	initialHopTopK    = 10
	fanoutTopK        = 5
	evaluateThreshold = 0.4

	reasoningReplay  = "Replay from history"
	reasoningInitial = "Initial Query"
	reasoningFanout  = "LLM Generated"
)

// queryDecompositionSystemPrompt instructs the LLM to judge sufficiency of
// accumulated context and, if insufficient, propose sub-queries to close the
// gap. The controller trusts nothing but the returned JSON shape.
const queryDecompositionSystemPrompt = `You evaluate whether the supplied context is sufficient to answer the question, and if not, propose focused sub-queries that would close the gap. Respond with JSON only, no prose, in the exact shape: {"sufficient": bool, "queries": ["..."]}.`

// Retriever is C5's contract as consumed by the MultiHopController.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, weights FusionWeights) ([]model.HybridResult, error)
}

// HopLedger is the subset of C4 the MultiHopController writes through and
// reads from.
type HopLedger interface {
	LogQuery(ctx context.Context, q model.Query) error
	LogHop(ctx context.Context, h model.Hop) error
	LogHopDocument(ctx context.Context, hd model.HopDocument) error
	GetSuccessfulTemplate(ctx context.Context, queryText string) ([]TemplateStep, error)
}

// MultiHopResult is the outcome of one MultiHopController.Run call.
type MultiHopResult struct {
	Results          []model.HybridResult
	Hops             []model.Hop
	GeneratedQueries []string
	QueryID          string
	HopIDs           []string
}

// MultiHopController is C6: per query it checks for a replayable template,
// otherwise runs an initial hop and, while the accumulated evidence is
// insufficient, LLM-directed fanout hops bounded by maxHops.
type MultiHopController struct {
	retriever Retriever
	ledger    HopLedger
	llm       GenAIClient
}

// NewMultiHopController creates a MultiHopController.
func NewMultiHopController(retriever Retriever, ledger HopLedger, llm GenAIClient) *MultiHopController {
	return &MultiHopController{retriever: retriever, ledger: ledger, llm: llm}
}

// Run executes the state machine once for originalQuery. maxHops <= 0 is
// treated as 1, matching the default of one decomposition round beyond the
// initial hop.
func (c *MultiHopController) Run(ctx context.Context, originalQuery string, maxHops int) (*MultiHopResult, error) {
	if maxHops <= 0 {
		maxHops = 1
	}

	queryID := uuid.New().String()
	q := model.Query{ID: queryID, Text: originalQuery, Timestamp: time.Now().UTC()}
	if err := c.ledger.LogQuery(ctx, q); err != nil {
		return nil, fmt.Errorf("service.MultiHopController.Run: log query: %w", err)
	}

	res := &MultiHopResult{QueryID: queryID}

	template, err := c.ledger.GetSuccessfulTemplate(ctx, originalQuery)
	if err != nil {
		return nil, fmt.Errorf("service.MultiHopController.Run: template lookup: %w", err)
	}
	if len(template) > 0 {
		if err := c.replay(ctx, queryID, template, res); err != nil {
			return nil, fmt.Errorf("service.MultiHopController.Run: replay: %w", err)
		}
		return res, nil
	}

	acc := newResultAccumulator()
	hopOrder := 0
	if err := c.runHop(ctx, queryID, hopOrder, originalQuery, reasoningInitial, initialHopTopK, acc, res); err != nil {
		return nil, fmt.Errorf("service.MultiHopController.Run: initial hop: %w", err)
	}

	for hopOrder < maxHops {
		sufficient, queries, ok := c.evaluate(ctx, acc.results(), originalQuery)
		if !ok || sufficient || len(queries) == 0 {
			break
		}

		res.GeneratedQueries = queries
		hopOrder++
		for _, sq := range queries {
			if err := c.runHop(ctx, queryID, hopOrder, sq, reasoningFanout, fanoutTopK, acc, res); err != nil {
				return nil, fmt.Errorf("service.MultiHopController.Run: fanout hop: %w", err)
			}
		}
	}

	res.Results = acc.results()
	return res, nil
}

// replay executes one hop per template step, preserving the template's
// recorded hopOrder and reasoning.
func (c *MultiHopController) replay(ctx context.Context, queryID string, template []TemplateStep, res *MultiHopResult) error {
	acc := newResultAccumulator()
	for _, step := range template {
		if err := c.runHop(ctx, queryID, step.HopOrder, step.SubQuery, reasoningReplay, replayTopK, acc, res); err != nil {
			return err
		}
	}
	res.Results = acc.results()
	return nil
}

// runHop logs one hop, searches C5, logs each returned document in rank
// order (rankPosition starting at 1), and merges results into acc.
func (c *MultiHopController) runHop(ctx context.Context, queryID string, hopOrder int, subQuery, reasoning string, topK int, acc *resultAccumulator, res *MultiHopResult) error {
	hop := model.Hop{
		ID:        uuid.New().String(),
		QueryID:   queryID,
		HopOrder:  hopOrder,
		SubQuery:  subQuery,
		Reasoning: reasoning,
		Status:    model.HopPending,
	}
	if err := c.ledger.LogHop(ctx, hop); err != nil {
		return fmt.Errorf("log hop: %w", err)
	}
	res.Hops = append(res.Hops, hop)
	res.HopIDs = append(res.HopIDs, hop.ID)

	results, err := c.retriever.Search(ctx, subQuery, topK, DefaultFusionWeights())
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for i, r := range results {
		hd := model.HopDocument{
			ID:           uuid.New().String(),
			HopID:        hop.ID,
			DocumentID:   r.ID,
			DenseScore:   r.SemanticScore,
			SparseScore:  r.KeywordScore,
			RankPosition: i + 1,
		}
		if err := c.ledger.LogHopDocument(ctx, hd); err != nil {
			return fmt.Errorf("log hop document: %w", err)
		}
		acc.merge(r)
	}
	return nil
}

// evaluate asks the LLM whether the accumulated evidence is sufficient. ok
// is false on any transport or parse failure, which terminates the loop.
func (c *MultiHopController) evaluate(ctx context.Context, results []model.HybridResult, originalQuery string) (sufficient bool, queries []string, ok bool) {
	contextStr := assembleContext(results, evaluateThreshold)
	prompt := buildDecompositionPrompt(contextStr, originalQuery)

	raw, err := c.llm.GenerateContent(ctx, queryDecompositionSystemPrompt, prompt)
	if err != nil {
		slog.Warn("service.MultiHopController: decomposition call failed", "error", err)
		return false, nil, false
	}

	parsed, err := parseDecompositionResponse(raw)
	if err != nil {
		slog.Warn("service.MultiHopController: decomposition response unparseable", "error", err)
		return false, nil, false
	}
	return parsed.Sufficient, parsed.Queries, true
}

func buildDecompositionPrompt(contextStr, question string) string {
	var sb strings.Builder
	sb.WriteString("=== CONTEXT ===\n")
	if contextStr == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(contextStr)
		sb.WriteString("\n")
	}
	sb.WriteString("\n=== QUESTION ===\n")
	sb.WriteString(question)
	return sb.String()
}

type decompositionJSON struct {
	Sufficient bool     `json:"sufficient"`
	Queries    []string `json:"queries"`
}

func parseDecompositionResponse(raw string) (*decompositionJSON, error) {
	cleaned := stripCodeFences(raw)
	var parsed decompositionJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal decomposition response: %w", err)
	}
	return &parsed, nil
}

// stripCodeFences removes an optional leading ```json or ``` fence and a
// trailing ``` fence, used by every LLM JSON-parsing path in this package.
func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// assembleContext concatenates the metadata.text of every result scoring at
// or above threshold, in the order given, separated by blank lines.
func assembleContext(results []model.HybridResult, threshold float64) string {
	var parts []string
	for _, r := range results {
		if r.FinalScore < threshold {
			continue
		}
		if text, ok := r.Metadata["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// resultAccumulator merges HybridResults across hops, deduplicating by ID
// and keeping the first (highest-ranked) occurrence.
type resultAccumulator struct {
	seen  map[string]bool
	items []model.HybridResult
}

func newResultAccumulator() *resultAccumulator {
	return &resultAccumulator{seen: make(map[string]bool)}
}

func (a *resultAccumulator) merge(r model.HybridResult) {
	if a.seen[r.ID] {
		return
	}
	a.seen[r.ID] = true
	a.items = append(a.items, r)
}

func (a *resultAccumulator) results() []model.HybridResult {
	sorted := make([]model.HybridResult, len(a.items))
	copy(sorted, a.items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FinalScore > sorted[j].FinalScore })
	return sorted
}
