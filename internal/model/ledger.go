package model

import "time"

// HopStatus tracks whether a hop has been implicated by weakest-link analysis.
type HopStatus string

const (
	HopPending HopStatus = "pending"
	HopFailed  HopStatus = "failed"
)

// Feedback is the user's verdict on a Response.
type Feedback int

const (
	FeedbackNone     Feedback = 0
	FeedbackNegative Feedback = -1
	FeedbackPositive Feedback = 1
)

// Query is created at the start of every knowledge-mode retrieval and is
// never mutated afterward.
type Query struct {
	ID        string
	Text      string
	Timestamp time.Time
}

// Hop is created when a sub-query is about to execute. Status transitions
// from pending to failed only via weakest-link diagnosis.
type Hop struct {
	ID        string
	QueryID   string
	HopOrder  int
	SubQuery  string
	Reasoning string
	Status    HopStatus
}

// HopDocument records one document surfaced by one hop, in the rank order
// the retriever produced it.
type HopDocument struct {
	ID           string
	HopID        string
	DocumentID   string
	DenseScore   float64
	SparseScore  float64
	RankPosition int
}

// Response is created at answer completion. UserFeedback and UserCorrection
// are mutated exactly once, by the feedback-submit path.
type Response struct {
	ID              string
	QueryID         string
	Content         string
	Timestamp       time.Time
	UserFeedback    Feedback
	UserCorrection  string
}

// EvidenceChain is written once per Response and never mutated afterward.
type EvidenceChain struct {
	ID              string
	ResponseID      string
	HopIDs          []string
	DocumentIDs     []string
	ConfidenceScore float64
}

// SubQueryFailureCount is one entry of the debug-metrics top-5 failed
// sub-queries list: a hop's text and how many times a hop with that text
// was marked failed by weakest-link diagnosis.
type SubQueryFailureCount struct {
	SubQuery string
	Count    int
}

// DocumentNegativeFeedbackCount is one entry of the debug-metrics top-5
// documents list: a document and how many negative-feedback responses it
// is linked to through query→hops→hopDocuments.
type DocumentNegativeFeedbackCount struct {
	DocumentID string
	Count      int
}

// DebugMetrics is the aggregate snapshot served by GET /api/debug/metrics.
type DebugMetrics struct {
	PositiveFeedback int
	NegativeFeedback int
	TotalFeedback    int

	TopFailedSubQueries  []SubQueryFailureCount
	TopNegativeDocuments []DocumentNegativeFeedbackCount
}
