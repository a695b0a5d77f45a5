package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// Default fusion weights for HybridRetriever.Search (C5): α for semantic
// similarity, β for keyword overlap, γ for the feedback ledger's per-document
// score.
const (
	defaultAlpha = 0.6
	defaultBeta  = 0.3
	defaultGamma = 0.1

	// appearsInBothBonus is added when a candidate's keyword score exceeds
	// appearsInBothThreshold, rewarding candidates the dense and sparse
	// signals agree on.
	appearsInBothBonus     = 0.05
	appearsInBothThreshold = 0.3

	// candidateFanout is the multiplier applied to topK when fetching raw
	// matches from the VectorIndex, giving keyword/feedback fusion enough
	// candidates to re-rank before truncating.
	candidateFanout = 3
)

// VectorIndex abstracts C2 for the retriever: embedding the query internally
// and returning ranked Matches.
type VectorIndex interface {
	Query(ctx context.Context, queryText string, topK int) ([]model.Match, *float64, error)
}

// KeywordScorer abstracts C3 for the retriever.
type KeywordScorer interface {
	ExtractKeywords(text string) map[string]bool
	CalculateKeywordScore(keywords map[string]bool, documentText string) float64
}

// FeedbackScorer abstracts the single C4 read the retriever needs.
type FeedbackScorer interface {
	GetDocumentGlobalScore(ctx context.Context, documentID string) (float64, error)
}

// FusionWeights are the α/β/γ weights HybridRetriever.Search combines
// semantic, keyword, and feedback scores with.
type FusionWeights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// DefaultFusionWeights returns the contract's default weights (α=0.6,
// β=0.3, γ=0.1).
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Alpha: defaultAlpha, Beta: defaultBeta, Gamma: defaultGamma}
}

// HybridRetriever is C5: fuses dense similarity from the VectorIndex,
// keyword overlap from C3, and the feedback ledger's per-document score into
// a single ranked candidate set.
type HybridRetriever struct {
	index    VectorIndex
	keywords KeywordScorer
	feedback FeedbackScorer
}

// NewHybridRetriever creates a HybridRetriever.
func NewHybridRetriever(index VectorIndex, keywords KeywordScorer, feedback FeedbackScorer) *HybridRetriever {
	return &HybridRetriever{index: index, keywords: keywords, feedback: feedback}
}

// Search implements C5's search operation: embeds and queries the dense
// index, scores candidates by keyword overlap and feedback history, fuses
// the three signals with weights, and returns at most topK HybridResults
// ordered by descending finalScore.
func (r *HybridRetriever) Search(ctx context.Context, query string, topK int, weights FusionWeights) ([]model.HybridResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	keywords := r.keywords.ExtractKeywords(query)

	rawMatches, _, err := r.index.Query(ctx, query, candidateFanout*topK)
	if err != nil {
		return nil, fmt.Errorf("service.HybridRetriever.Search: query: %w", err)
	}
	if len(rawMatches) == 0 {
		return []model.HybridResult{}, nil
	}

	candidates := dedupeMatches(rawMatches)

	results := make([]model.HybridResult, len(candidates))
	for i, m := range candidates {
		textContent := m.TextContent()
		keywordScore := r.keywords.CalculateKeywordScore(keywords, textContent)
		results[i] = model.HybridResult{
			ID:            m.ID,
			SemanticScore: m.Score,
			KeywordScore:  keywordScore,
			Metadata:      m.Metadata,
			AppearsInBoth: keywordScore > appearsInBothThreshold,
		}
	}

	if err := r.attachFeedbackScores(ctx, results); err != nil {
		return nil, fmt.Errorf("service.HybridRetriever.Search: %w", err)
	}

	for i := range results {
		results[i].FinalScore = weights.Alpha*results[i].SemanticScore +
			weights.Beta*results[i].KeywordScore +
			weights.Gamma*results[i].FeedbackScore
		if results[i].AppearsInBoth {
			results[i].FinalScore += appearsInBothBonus
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		if results[i].SemanticScore != results[j].SemanticScore {
			return results[i].SemanticScore > results[j].SemanticScore
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// attachFeedbackScores fans out GetDocumentGlobalScore calls concurrently.
// A per-candidate failure sets that candidate's feedbackScore to 0 and logs
// a warning; it never aborts the remaining lookups.
func (r *HybridRetriever) attachFeedbackScores(ctx context.Context, results []model.HybridResult) error {
	g, gCtx := errgroup.WithContext(ctx)

	for i := range results {
		i := i
		g.Go(func() error {
			score, err := r.feedback.GetDocumentGlobalScore(gCtx, results[i].ID)
			if err != nil {
				slog.Warn("service.HybridRetriever: feedback score unavailable", "document_id", results[i].ID, "error", err)
				return nil
			}
			results[i].FeedbackScore = score
			return nil
		})
	}

	return g.Wait()
}

// dedupeMatches removes repeat IDs from rawMatches, keeping the first
// (highest-scored, since the VectorIndex returns matches sorted descending).
func dedupeMatches(matches []model.Match) []model.Match {
	seen := make(map[string]bool, len(matches))
	out := make([]model.Match, 0, len(matches))
	for _, m := range matches {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

// GetHighestScore returns the maximum finalScore among results, or nil if
// results is empty.
func GetHighestScore(results []model.HybridResult) *float64 {
	if len(results) == 0 {
		return nil
	}
	max := results[0].FinalScore
	for _, r := range results[1:] {
		if r.FinalScore > max {
			max = r.FinalScore
		}
	}
	return &max
}
