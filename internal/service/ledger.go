package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

// feedbackDecayLambda is λ in the document global score formula.
const feedbackDecayLambda = 0.1

// minCorrectionLength is the trimmed length a correction must exceed before
// it is embedded and upserted into the vector index.
const minCorrectionLength = 5

// TemplateStep is one hop of a prior successful query, replayed verbatim by
// the MultiHopController's REPLAY state.
type TemplateStep struct {
	HopOrder  int
	SubQuery  string
	Reasoning string
}

// LedgerStore is C4's storage contract: idempotent appends plus the reads
// needed for feedback analysis. Implemented by the repository package.
type LedgerStore interface {
	LogQuery(ctx context.Context, q model.Query) error
	LogHop(ctx context.Context, h model.Hop) error
	LogHopDocument(ctx context.Context, hd model.HopDocument) error
	LogResponse(ctx context.Context, r model.Response) error
	LogEvidenceChain(ctx context.Context, ec model.EvidenceChain) error

	UpdateResponseFeedback(ctx context.Context, responseID string, feedback model.Feedback, correction string) error
	GetEvidenceChainByResponseID(ctx context.Context, responseID string) (*model.EvidenceChain, error)
	GetHop(ctx context.Context, hopID string) (*model.Hop, error)
	GetHopDocuments(ctx context.Context, hopID string) ([]model.HopDocument, error)
	SetHopStatus(ctx context.Context, hopID string, status model.HopStatus) error

	// GetFeedbackAggregate sums ±1 feedback from every response transitively
	// linked to documentID through query→hops→hopDocuments, and reports the
	// most recent such response's timestamp. hasFeedback is false if no
	// response is linked.
	GetFeedbackAggregate(ctx context.Context, documentID string) (raw int, lastTime time.Time, hasFeedback bool, err error)

	GetSuccessfulTemplate(ctx context.Context, queryText string) ([]TemplateStep, error)

	// GetDebugMetrics computes the aggregate feedback/failure snapshot
	// served by GET /api/debug/metrics.
	GetDebugMetrics(ctx context.Context) (*model.DebugMetrics, error)
}

// TextEmbedder is the subset of C1 correction injection needs.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorUpserter is the subset of C2 correction injection needs.
type VectorUpserter interface {
	Upsert(ctx context.Context, items []vectorindex.UpsertItem) error
}

// FeedbackLedger is C4: it forwards the idempotent append operations to
// LedgerStore and implements submitFeedback's negative-feedback analysis and
// correction injection business logic.
type FeedbackLedger struct {
	store    LedgerStore
	embedder TextEmbedder
	index    VectorUpserter
}

// NewFeedbackLedger creates a FeedbackLedger.
func NewFeedbackLedger(store LedgerStore, embedder TextEmbedder, index VectorUpserter) *FeedbackLedger {
	return &FeedbackLedger{store: store, embedder: embedder, index: index}
}

func (l *FeedbackLedger) LogQuery(ctx context.Context, q model.Query) error {
	return l.store.LogQuery(ctx, q)
}

func (l *FeedbackLedger) LogHop(ctx context.Context, h model.Hop) error {
	return l.store.LogHop(ctx, h)
}

func (l *FeedbackLedger) LogHopDocument(ctx context.Context, hd model.HopDocument) error {
	return l.store.LogHopDocument(ctx, hd)
}

func (l *FeedbackLedger) LogResponse(ctx context.Context, r model.Response) error {
	return l.store.LogResponse(ctx, r)
}

func (l *FeedbackLedger) LogEvidenceChain(ctx context.Context, ec model.EvidenceChain) error {
	return l.store.LogEvidenceChain(ctx, ec)
}

// GetSuccessfulTemplate returns the hop breakdown of a prior identical-text
// query with a +1-feedback response, ordered by hopOrder. Empty if none.
func (l *FeedbackLedger) GetSuccessfulTemplate(ctx context.Context, queryText string) ([]TemplateStep, error) {
	return l.store.GetSuccessfulTemplate(ctx, queryText)
}

// GetDebugMetrics returns the aggregate feedback/failure snapshot served by
// GET /api/debug/metrics.
func (l *FeedbackLedger) GetDebugMetrics(ctx context.Context) (*model.DebugMetrics, error) {
	m, err := l.store.GetDebugMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.FeedbackLedger.GetDebugMetrics: %w", err)
	}
	return m, nil
}

// GetDocumentGlobalScore implements the (-1,+1) decayed score formula:
// score = tanh(raw/10) * exp(-λ * age_days). Returns 0 if documentID has no
// linked feedback.
func (l *FeedbackLedger) GetDocumentGlobalScore(ctx context.Context, documentID string) (float64, error) {
	raw, lastTime, hasFeedback, err := l.store.GetFeedbackAggregate(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("service.FeedbackLedger.GetDocumentGlobalScore: %w", err)
	}
	if !hasFeedback {
		return 0, nil
	}

	ageDays := time.Since(lastTime).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score := math.Tanh(float64(raw)/10) * math.Exp(-feedbackDecayLambda*ageDays)
	return score, nil
}

// SubmitFeedback updates the response row, then runs weakest-link analysis
// on negative feedback and correction injection when a correction is given.
func (l *FeedbackLedger) SubmitFeedback(ctx context.Context, responseID string, feedback model.Feedback, correction string) error {
	if err := l.store.UpdateResponseFeedback(ctx, responseID, feedback, correction); err != nil {
		return fmt.Errorf("service.FeedbackLedger.SubmitFeedback: %w", err)
	}

	if feedback == model.FeedbackNegative {
		if err := l.diagnoseWeakestLink(ctx, responseID); err != nil {
			slog.Warn("service.FeedbackLedger: weakest-link analysis failed", "response_id", responseID, "error", err)
		}
	}

	l.injectCorrection(ctx, correction)

	return nil
}

// diagnoseWeakestLink implements the weakest-link analysis: load the
// response's evidence chain (abort quietly if none), compute each hop's
// average dense+sparse score, and mark the weakest hop failed.
func (l *FeedbackLedger) diagnoseWeakestLink(ctx context.Context, responseID string) error {
	chain, err := l.store.GetEvidenceChainByResponseID(ctx, responseID)
	if err != nil {
		return fmt.Errorf("load evidence chain: %w", err)
	}
	if chain == nil || len(chain.HopIDs) == 0 {
		return nil
	}

	type hopAvg struct {
		hop *model.Hop
		avg float64
	}
	avgs := make([]hopAvg, 0, len(chain.HopIDs))

	for _, hopID := range chain.HopIDs {
		hop, err := l.store.GetHop(ctx, hopID)
		if err != nil {
			return fmt.Errorf("load hop %s: %w", hopID, err)
		}
		if hop == nil {
			continue
		}

		docs, err := l.store.GetHopDocuments(ctx, hopID)
		if err != nil {
			return fmt.Errorf("load hop documents for %s: %w", hopID, err)
		}

		var avg float64
		if len(docs) > 0 {
			var sum float64
			for _, d := range docs {
				sum += d.DenseScore + d.SparseScore
			}
			avg = sum / float64(len(docs))
		}

		avgs = append(avgs, hopAvg{hop: hop, avg: avg})
	}

	if len(avgs) == 0 {
		return nil
	}

	sort.Slice(avgs, func(i, j int) bool {
		if avgs[i].avg != avgs[j].avg {
			return avgs[i].avg < avgs[j].avg
		}
		if avgs[i].hop.HopOrder != avgs[j].hop.HopOrder {
			return avgs[i].hop.HopOrder < avgs[j].hop.HopOrder
		}
		return avgs[i].hop.ID < avgs[j].hop.ID
	})

	weakest := avgs[0].hop
	if err := l.store.SetHopStatus(ctx, weakest.ID, model.HopFailed); err != nil {
		return fmt.Errorf("set hop %s failed: %w", weakest.ID, err)
	}
	return nil
}

// injectCorrection embeds and upserts a non-trivial correction. Failures are
// logged but never propagated — correction injection never fails
// submitFeedback.
func (l *FeedbackLedger) injectCorrection(ctx context.Context, correction string) {
	trimmed := strings.TrimSpace(correction)
	if len(trimmed) <= minCorrectionLength {
		return
	}

	vec, err := l.embedder.Embed(ctx, trimmed)
	if err != nil {
		slog.Warn("service.FeedbackLedger: correction embed failed", "error", err)
		return
	}

	item := vectorindex.UpsertItem{
		ID:     "correction-" + uuid.New().String(),
		Vector: vec,
		Metadata: map[string]any{
			"text":      trimmed,
			"type":      "correction",
			"timestamp": time.Now().UTC(),
			"source":    "user_feedback",
		},
	}

	if err := l.index.Upsert(ctx, []vectorindex.UpsertItem{item}); err != nil {
		slog.Warn("service.FeedbackLedger: correction upsert failed", "error", err)
	}
}
