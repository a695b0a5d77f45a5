package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// DebugMetricsProvider is C4's aggregate-read surface as consumed by the
// debug metrics handler, implemented by *service.FeedbackLedger.
type DebugMetricsProvider interface {
	GetDebugMetrics(ctx context.Context) (*model.DebugMetrics, error)
}

// DebugDeps bundles dependencies for the debug metrics handler.
type DebugDeps struct {
	Ledger DebugMetricsProvider
}

// subQueryFailureResponse and documentNegativeFeedbackResponse give the
// DebugMetrics response body explicit JSON field names rather than leaking
// the model package's Go-idiomatic field casing.
type subQueryFailureResponse struct {
	SubQuery string `json:"subQuery"`
	Count    int    `json:"count"`
}

type documentNegativeFeedbackResponse struct {
	DocumentID string `json:"documentId"`
	Count      int    `json:"count"`
}

// DebugMetricsResponse is the GET /api/debug/metrics response body.
type DebugMetricsResponse struct {
	PositiveFeedback     int                                `json:"positiveFeedback"`
	NegativeFeedback     int                                `json:"negativeFeedback"`
	TotalFeedback        int                                `json:"totalFeedback"`
	TopFailedSubQueries  []subQueryFailureResponse          `json:"topFailedSubQueries"`
	TopNegativeDocuments []documentNegativeFeedbackResponse `json:"topNegativeDocuments"`
}

// DebugMetrics handles GET /api/debug/metrics: aggregate counts of
// positive/negative/total feedback, the top-5 failed sub-queries by count,
// and the top-5 documents by negative-feedback associations.
func DebugMetrics(deps DebugDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Ledger.GetDebugMetrics(r.Context())
		if err != nil {
			slog.Error("handler.DebugMetrics: aggregate failed", "error", err)
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to compute debug metrics"})
			return
		}

		failed := make([]subQueryFailureResponse, len(m.TopFailedSubQueries))
		for i, c := range m.TopFailedSubQueries {
			failed[i] = subQueryFailureResponse{SubQuery: c.SubQuery, Count: c.Count}
		}

		negDocs := make([]documentNegativeFeedbackResponse, len(m.TopNegativeDocuments))
		for i, c := range m.TopNegativeDocuments {
			negDocs[i] = documentNegativeFeedbackResponse{DocumentID: c.DocumentID, Count: c.Count}
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: DebugMetricsResponse{
			PositiveFeedback:     m.PositiveFeedback,
			NegativeFeedback:     m.NegativeFeedback,
			TotalFeedback:        m.TotalFeedback,
			TopFailedSubQueries:  failed,
			TopNegativeDocuments: negDocs,
		}})
	}
}
