package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// FeedbackSubmitter is C4's submission surface as consumed by the feedback
// handler, implemented by *service.FeedbackLedger.
type FeedbackSubmitter interface {
	SubmitFeedback(ctx context.Context, responseID string, feedback model.Feedback, correction string) error
}

// FeedbackDeps bundles dependencies for the feedback handler.
type FeedbackDeps struct {
	Ledger FeedbackSubmitter
}

// FeedbackRequest is the POST /api/feedback request body. Feedback is +1 or
// -1; Correction is optional free text attached to a negative verdict.
type FeedbackRequest struct {
	ResponseID string `json:"responseId"`
	Feedback   int    `json:"feedback"`
	Correction string `json:"correction"`
}

// Feedback handles POST /api/feedback: records a user's verdict on a
// Response, triggering weakest-link diagnosis and, on a non-trivial
// correction, corpus injection.
func Feedback(deps FeedbackDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}

		if req.ResponseID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "responseId is required"})
			return
		}

		feedback := model.Feedback(req.Feedback)
		if feedback != model.FeedbackPositive && feedback != model.FeedbackNegative {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "feedback must be 1 or -1"})
			return
		}

		if err := deps.Ledger.SubmitFeedback(r.Context(), req.ResponseID, feedback, req.Correction); err != nil {
			slog.Error("handler.Feedback: submit failed", "error", err, "response_id", req.ResponseID)
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to record feedback"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}
