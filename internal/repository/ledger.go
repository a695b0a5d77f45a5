package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// LedgerRepo implements service.LedgerStore with pgx, backing C4's five
// Postgres tables (queries, hops, hop_documents, responses, evidence_chains).
type LedgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo creates a LedgerRepo.
func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Compile-time check that LedgerRepo implements service.LedgerStore.
var _ service.LedgerStore = (*LedgerRepo)(nil)

func (r *LedgerRepo) LogQuery(ctx context.Context, q model.Query) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO queries (id, text, timestamp) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		q.ID, q.Text, q.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("repository.LogQuery: %w", err)
	}
	return nil
}

func (r *LedgerRepo) LogHop(ctx context.Context, h model.Hop) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO hops (id, query_id, hop_order, sub_query, reasoning, status)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		h.ID, h.QueryID, h.HopOrder, h.SubQuery, h.Reasoning, string(h.Status),
	)
	if err != nil {
		return fmt.Errorf("repository.LogHop: %w", err)
	}
	return nil
}

func (r *LedgerRepo) LogHopDocument(ctx context.Context, hd model.HopDocument) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO hop_documents (id, hop_id, document_id, dense_score, sparse_score, rank_position)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		hd.ID, hd.HopID, hd.DocumentID, hd.DenseScore, hd.SparseScore, hd.RankPosition,
	)
	if err != nil {
		return fmt.Errorf("repository.LogHopDocument: %w", err)
	}
	return nil
}

func (r *LedgerRepo) LogResponse(ctx context.Context, resp model.Response) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO responses (id, query_id, content, timestamp, user_feedback, user_correction)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		resp.ID, resp.QueryID, resp.Content, resp.Timestamp, int(resp.UserFeedback), resp.UserCorrection,
	)
	if err != nil {
		return fmt.Errorf("repository.LogResponse: %w", err)
	}
	return nil
}

func (r *LedgerRepo) LogEvidenceChain(ctx context.Context, ec model.EvidenceChain) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO evidence_chains (id, response_id, hop_ids, document_ids, confidence_score)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		ec.ID, ec.ResponseID, ec.HopIDs, ec.DocumentIDs, ec.ConfidenceScore,
	)
	if err != nil {
		return fmt.Errorf("repository.LogEvidenceChain: %w", err)
	}
	return nil
}

func (r *LedgerRepo) UpdateResponseFeedback(ctx context.Context, responseID string, feedback model.Feedback, correction string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE responses SET user_feedback = $1, user_correction = $2 WHERE id = $3`,
		int(feedback), correction, responseID,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateResponseFeedback: %w", err)
	}
	return nil
}

func (r *LedgerRepo) GetEvidenceChainByResponseID(ctx context.Context, responseID string) (*model.EvidenceChain, error) {
	var ec model.EvidenceChain
	err := r.pool.QueryRow(ctx,
		`SELECT id, response_id, hop_ids, document_ids, confidence_score
		 FROM evidence_chains WHERE response_id = $1`, responseID,
	).Scan(&ec.ID, &ec.ResponseID, &ec.HopIDs, &ec.DocumentIDs, &ec.ConfidenceScore)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetEvidenceChainByResponseID: %w", err)
	}
	return &ec, nil
}

func (r *LedgerRepo) GetHop(ctx context.Context, hopID string) (*model.Hop, error) {
	var h model.Hop
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, query_id, hop_order, sub_query, reasoning, status FROM hops WHERE id = $1`, hopID,
	).Scan(&h.ID, &h.QueryID, &h.HopOrder, &h.SubQuery, &h.Reasoning, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetHop: %w", err)
	}
	h.Status = model.HopStatus(status)
	return &h, nil
}

func (r *LedgerRepo) GetHopDocuments(ctx context.Context, hopID string) ([]model.HopDocument, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, hop_id, document_id, dense_score, sparse_score, rank_position
		 FROM hop_documents WHERE hop_id = $1 ORDER BY rank_position ASC`, hopID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetHopDocuments: %w", err)
	}
	defer rows.Close()

	var docs []model.HopDocument
	for rows.Next() {
		var d model.HopDocument
		if err := rows.Scan(&d.ID, &d.HopID, &d.DocumentID, &d.DenseScore, &d.SparseScore, &d.RankPosition); err != nil {
			return nil, fmt.Errorf("repository.GetHopDocuments: scan: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (r *LedgerRepo) SetHopStatus(ctx context.Context, hopID string, status model.HopStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE hops SET status = $1 WHERE id = $2`, string(status), hopID)
	if err != nil {
		return fmt.Errorf("repository.SetHopStatus: %w", err)
	}
	return nil
}

// GetFeedbackAggregate sums ±1 feedback from every response transitively
// linked to documentID through query→hops→hopDocuments.
func (r *LedgerRepo) GetFeedbackAggregate(ctx context.Context, documentID string) (int, time.Time, bool, error) {
	var raw int
	var lastTime *time.Time

	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(r.user_feedback), 0), MAX(r.timestamp)
		FROM responses r
		WHERE r.user_feedback != 0
		  AND r.query_id IN (
		      SELECT DISTINCT h.query_id
		      FROM hops h
		      JOIN hop_documents hd ON hd.hop_id = h.id
		      WHERE hd.document_id = $1
		  )`, documentID,
	).Scan(&raw, &lastTime)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("repository.GetFeedbackAggregate: %w", err)
	}

	if lastTime == nil {
		return 0, time.Time{}, false, nil
	}
	return raw, *lastTime, true, nil
}

// debugTopN bounds the top-failed-sub-queries and top-negative-documents
// lists returned by GetDebugMetrics.
const debugTopN = 5

// GetDebugMetrics computes the aggregate feedback/failure snapshot served by
// GET /api/debug/metrics: positive/negative/total feedback counts, the top-5
// sub-queries by failed-hop count, and the top-5 documents by
// negative-feedback associations.
func (r *LedgerRepo) GetDebugMetrics(ctx context.Context) (*model.DebugMetrics, error) {
	m := &model.DebugMetrics{}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(COUNT(*) FILTER (WHERE user_feedback = 1), 0),
			COALESCE(COUNT(*) FILTER (WHERE user_feedback = -1), 0),
			COALESCE(COUNT(*) FILTER (WHERE user_feedback != 0), 0)
		FROM responses`,
	).Scan(&m.PositiveFeedback, &m.NegativeFeedback, &m.TotalFeedback)
	if err != nil {
		return nil, fmt.Errorf("repository.GetDebugMetrics: feedback counts: %w", err)
	}

	failedRows, err := r.pool.Query(ctx, `
		SELECT sub_query, COUNT(*) AS failures
		FROM hops
		WHERE status = $1
		GROUP BY sub_query
		ORDER BY failures DESC, sub_query ASC
		LIMIT $2`, string(model.HopFailed), debugTopN,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetDebugMetrics: failed sub-queries: %w", err)
	}
	defer failedRows.Close()

	for failedRows.Next() {
		var c model.SubQueryFailureCount
		if err := failedRows.Scan(&c.SubQuery, &c.Count); err != nil {
			return nil, fmt.Errorf("repository.GetDebugMetrics: scan failed sub-query: %w", err)
		}
		m.TopFailedSubQueries = append(m.TopFailedSubQueries, c)
	}
	if err := failedRows.Err(); err != nil {
		return nil, fmt.Errorf("repository.GetDebugMetrics: failed sub-queries: %w", err)
	}

	negDocRows, err := r.pool.Query(ctx, `
		SELECT hd.document_id, COUNT(*) AS negatives
		FROM hop_documents hd
		JOIN hops h ON h.id = hd.hop_id
		JOIN responses r ON r.query_id = h.query_id
		WHERE r.user_feedback = -1
		GROUP BY hd.document_id
		ORDER BY negatives DESC, hd.document_id ASC
		LIMIT $1`, debugTopN,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetDebugMetrics: negative documents: %w", err)
	}
	defer negDocRows.Close()

	for negDocRows.Next() {
		var c model.DocumentNegativeFeedbackCount
		if err := negDocRows.Scan(&c.DocumentID, &c.Count); err != nil {
			return nil, fmt.Errorf("repository.GetDebugMetrics: scan negative document: %w", err)
		}
		m.TopNegativeDocuments = append(m.TopNegativeDocuments, c)
	}
	if err := negDocRows.Err(); err != nil {
		return nil, fmt.Errorf("repository.GetDebugMetrics: negative documents: %w", err)
	}

	return m, nil
}

// GetSuccessfulTemplate returns the hop breakdown, ordered by hopOrder, of
// the most recent prior query with identical text whose response received
// +1 feedback.
func (r *LedgerRepo) GetSuccessfulTemplate(ctx context.Context, queryText string) ([]service.TemplateStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.hop_order, h.sub_query, h.reasoning
		FROM hops h
		WHERE h.query_id = (
		    SELECT q.id
		    FROM queries q
		    JOIN responses r ON r.query_id = q.id
		    WHERE q.text = $1 AND r.user_feedback = 1
		    ORDER BY q.timestamp DESC
		    LIMIT 1
		)
		ORDER BY h.hop_order ASC`, queryText,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetSuccessfulTemplate: %w", err)
	}
	defer rows.Close()

	var steps []service.TemplateStep
	for rows.Next() {
		var s service.TemplateStep
		if err := rows.Scan(&s.HopOrder, &s.SubQuery, &s.Reasoning); err != nil {
			return nil, fmt.Errorf("repository.GetSuccessfulTemplate: scan: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}
