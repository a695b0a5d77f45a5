package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

type fakeHopLedger struct {
	queries       []model.Query
	hops          []model.Hop
	hopDocuments  []model.HopDocument
	template      []TemplateStep
	templateErr   error
	logQueryErr   error
	logHopErr     error
	logHopDocErr  error
}

func (f *fakeHopLedger) LogQuery(ctx context.Context, q model.Query) error {
	if f.logQueryErr != nil {
		return f.logQueryErr
	}
	f.queries = append(f.queries, q)
	return nil
}

func (f *fakeHopLedger) LogHop(ctx context.Context, h model.Hop) error {
	if f.logHopErr != nil {
		return f.logHopErr
	}
	f.hops = append(f.hops, h)
	return nil
}

func (f *fakeHopLedger) LogHopDocument(ctx context.Context, hd model.HopDocument) error {
	if f.logHopDocErr != nil {
		return f.logHopDocErr
	}
	f.hopDocuments = append(f.hopDocuments, hd)
	return nil
}

func (f *fakeHopLedger) GetSuccessfulTemplate(ctx context.Context, queryText string) ([]TemplateStep, error) {
	if f.templateErr != nil {
		return nil, f.templateErr
	}
	return f.template, nil
}

// fakeRetriever returns a scripted sequence of result sets, one per call to
// Search, in call order. The last entry is reused once exhausted.
type fakeRetriever struct {
	calls        []string
	perCallTopK  []int
	resultsByIdx [][]model.HybridResult
	err          error
}

func (f *fakeRetriever) Search(ctx context.Context, query string, topK int, weights FusionWeights) ([]model.HybridResult, error) {
	f.calls = append(f.calls, query)
	f.perCallTopK = append(f.perCallTopK, topK)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.calls) - 1
	if idx >= len(f.resultsByIdx) {
		idx = len(f.resultsByIdx) - 1
	}
	if idx < 0 {
		return nil, nil
	}
	return f.resultsByIdx[idx], nil
}

// fakeGenAI returns a scripted sequence of raw responses, one per call.
type fakeGenAI struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeGenAI) GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func hr(id string, finalScore float64) model.HybridResult {
	return model.HybridResult{ID: id, FinalScore: finalScore, SemanticScore: finalScore, Metadata: map[string]any{"text": "content for " + id}}
}

func TestMultiHopController_Run_TemplateReplay(t *testing.T) {
	ledger := &fakeHopLedger{
		template: []TemplateStep{
			{HopOrder: 0, SubQuery: "first", Reasoning: "Initial Query"},
			{HopOrder: 1, SubQuery: "second", Reasoning: "LLM Generated"},
		},
	}
	retriever := &fakeRetriever{resultsByIdx: [][]model.HybridResult{
		{hr("doc-1", 0.9)},
		{hr("doc-2", 0.8)},
	}}
	llm := &fakeGenAI{responses: []string{`{"sufficient": true, "queries": []}`}}

	c := NewMultiHopController(retriever, ledger, llm)
	res, err := c.Run(context.Background(), "what is ragbox", 1)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(res.Hops) != 2 {
		t.Fatalf("len(Hops) = %d, want 2", len(res.Hops))
	}
	if res.Hops[0].Reasoning != reasoningReplay || res.Hops[1].Reasoning != reasoningReplay {
		t.Errorf("replay hops must carry reasoning %q", reasoningReplay)
	}
	if res.Hops[0].HopOrder != 0 || res.Hops[1].HopOrder != 1 {
		t.Errorf("replay hop orders = %d,%d want 0,1", res.Hops[0].HopOrder, res.Hops[1].HopOrder)
	}
	if len(res.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(res.Results))
	}
	if llm.calls != 0 {
		t.Error("replay path must not call the LLM")
	}
}

func TestMultiHopController_Run_InitialHopSufficient(t *testing.T) {
	ledger := &fakeHopLedger{}
	retriever := &fakeRetriever{resultsByIdx: [][]model.HybridResult{
		{hr("doc-1", 0.9), hr("doc-2", 0.7)},
	}}
	llm := &fakeGenAI{responses: []string{`{"sufficient": true, "queries": []}`}}

	c := NewMultiHopController(retriever, ledger, llm)
	res, err := c.Run(context.Background(), "what is ragbox", 1)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(res.Hops) != 1 {
		t.Fatalf("len(Hops) = %d, want 1 (no fanout)", len(res.Hops))
	}
	if res.Hops[0].Reasoning != reasoningInitial {
		t.Errorf("Hops[0].Reasoning = %q, want %q", res.Hops[0].Reasoning, reasoningInitial)
	}
	if res.Hops[0].HopOrder != 0 {
		t.Errorf("Hops[0].HopOrder = %d, want 0", res.Hops[0].HopOrder)
	}
	if len(retriever.calls) != 1 {
		t.Fatalf("retriever called %d times, want 1", len(retriever.calls))
	}
	if retriever.perCallTopK[0] != initialHopTopK {
		t.Errorf("initial hop topK = %d, want %d", retriever.perCallTopK[0], initialHopTopK)
	}
	if len(res.Results) != 2 {
		t.Errorf("len(Results) = %d, want 2", len(res.Results))
	}
	if len(res.GeneratedQueries) != 0 {
		t.Errorf("GeneratedQueries = %v, want none", res.GeneratedQueries)
	}
}

func TestMultiHopController_Run_FanoutThenMaxHopsStops(t *testing.T) {
	ledger := &fakeHopLedger{}
	retriever := &fakeRetriever{resultsByIdx: [][]model.HybridResult{
		{hr("doc-1", 0.3)},          // initial hop: weak
		{hr("doc-2", 0.9)},          // fanout sub-query 1
		{hr("doc-3", 0.85)},         // fanout sub-query 2
	}}
	llm := &fakeGenAI{responses: []string{
		`{"sufficient": false, "queries": ["What is A?", "What is B?"]}`,
	}}

	c := NewMultiHopController(retriever, ledger, llm)
	res, err := c.Run(context.Background(), "Compare A and B", 1)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(res.Hops) != 3 {
		t.Fatalf("len(Hops) = %d, want 3 (orders 0,1,1)", len(res.Hops))
	}
	wantOrders := []int{0, 1, 1}
	for i, h := range res.Hops {
		if h.HopOrder != wantOrders[i] {
			t.Errorf("Hops[%d].HopOrder = %d, want %d", i, h.HopOrder, wantOrders[i])
		}
	}
	if res.Hops[1].Reasoning != reasoningFanout || res.Hops[2].Reasoning != reasoningFanout {
		t.Error("fanout hops must carry reasoning \"LLM Generated\"")
	}
	if len(res.GeneratedQueries) != 2 {
		t.Fatalf("GeneratedQueries = %v, want 2 entries", res.GeneratedQueries)
	}
	if llm.calls != 1 {
		t.Errorf("llm.calls = %d, want 1 (maxHops=1 stops after one fanout round)", llm.calls)
	}
	if len(res.Results) != 3 {
		t.Errorf("len(Results) = %d, want 3 deduplicated docs", len(res.Results))
	}
}

func TestMultiHopController_Run_EmptyQueriesTerminates(t *testing.T) {
	ledger := &fakeHopLedger{}
	retriever := &fakeRetriever{resultsByIdx: [][]model.HybridResult{
		{hr("doc-1", 0.2)},
	}}
	llm := &fakeGenAI{responses: []string{`{"sufficient": false, "queries": []}`}}

	c := NewMultiHopController(retriever, ledger, llm)
	res, err := c.Run(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Hops) != 1 {
		t.Errorf("len(Hops) = %d, want 1 (empty queries terminates)", len(res.Hops))
	}
}

func TestMultiHopController_Run_ParseFailureTerminates(t *testing.T) {
	ledger := &fakeHopLedger{}
	retriever := &fakeRetriever{resultsByIdx: [][]model.HybridResult{
		{hr("doc-1", 0.2)},
	}}
	llm := &fakeGenAI{responses: []string{`not json at all`}}

	c := NewMultiHopController(retriever, ledger, llm)
	res, err := c.Run(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Hops) != 1 {
		t.Errorf("len(Hops) = %d, want 1 (parse failure terminates)", len(res.Hops))
	}
}

func TestMultiHopController_Run_DeduplicatesAcrossHops(t *testing.T) {
	ledger := &fakeHopLedger{}
	retriever := &fakeRetriever{resultsByIdx: [][]model.HybridResult{
		{hr("doc-1", 0.3), hr("doc-shared", 0.25)},
		{hr("doc-2", 0.9), hr("doc-shared", 0.5)},
	}}
	llm := &fakeGenAI{responses: []string{
		`{"sufficient": false, "queries": ["only one"]}`,
	}}

	c := NewMultiHopController(retriever, ledger, llm)
	res, err := c.Run(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	seen := map[string]int{}
	for _, r := range res.Results {
		seen[r.ID]++
	}
	if seen["doc-shared"] != 1 {
		t.Errorf("doc-shared appears %d times, want 1", seen["doc-shared"])
	}
	if len(res.Results) != 3 {
		t.Errorf("len(Results) = %d, want 3 (doc-1, doc-2, doc-shared deduplicated)", len(res.Results))
	}
	for _, r := range res.Results {
		if r.ID == "doc-shared" && r.FinalScore != 0.25 {
			t.Errorf("doc-shared FinalScore = %v, want the first-seen score 0.25", r.FinalScore)
		}
	}
}

func TestMultiHopController_Run_HopDocumentRankPositionStartsAtOne(t *testing.T) {
	ledger := &fakeHopLedger{}
	retriever := &fakeRetriever{resultsByIdx: [][]model.HybridResult{
		{hr("doc-1", 0.9), hr("doc-2", 0.5)},
	}}
	llm := &fakeGenAI{responses: []string{`{"sufficient": true, "queries": []}`}}

	c := NewMultiHopController(retriever, ledger, llm)
	if _, err := c.Run(context.Background(), "q", 1); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(ledger.hopDocuments) != 2 {
		t.Fatalf("len(hopDocuments) = %d, want 2", len(ledger.hopDocuments))
	}
	if ledger.hopDocuments[0].RankPosition != 1 || ledger.hopDocuments[1].RankPosition != 2 {
		t.Errorf("rank positions = %d,%d want 1,2", ledger.hopDocuments[0].RankPosition, ledger.hopDocuments[1].RankPosition)
	}
}

func TestMultiHopController_Run_LedgerErrorPropagates(t *testing.T) {
	ledger := &fakeHopLedger{logQueryErr: fmt.Errorf("db down")}
	c := NewMultiHopController(&fakeRetriever{}, ledger, &fakeGenAI{})
	if _, err := c.Run(context.Background(), "q", 1); err == nil {
		t.Error("Run() error = nil, want error when LogQuery fails")
	}
}

func TestAssembleContext_FiltersByThreshold(t *testing.T) {
	results := []model.HybridResult{
		hr("a", 0.5),
		hr("b", 0.3),
	}
	got := assembleContext(results, 0.4)
	if got != "content for a" {
		t.Errorf("assembleContext() = %q, want only the result above threshold", got)
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFences(in); got != want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}
