package model

// Match is a raw hit returned from the VectorIndex (C2).
type Match struct {
	ID       string
	Score    float64 // cosine similarity, [0,1]
	Metadata map[string]any
}

// HybridResult is one ranked candidate produced by the HybridRetriever (C5),
// fusing dense similarity, keyword overlap, and the feedback ledger's
// per-document score. Within a single query execution, no two HybridResults
// share an ID.
type HybridResult struct {
	ID             string
	SemanticScore  float64
	KeywordScore   float64
	FeedbackScore  float64
	FinalScore     float64
	Metadata       map[string]any
	AppearsInBoth  bool
}

// TextContent concatenates the metadata fields consumed by keyword scoring
// and context assembly: text, title, source, and tags.
func (m Match) TextContent() string {
	return joinMeta(m.Metadata)
}

func joinMeta(meta map[string]any) string {
	var sb []byte
	appendStr := func(v any) {
		if s, ok := v.(string); ok && s != "" {
			if len(sb) > 0 {
				sb = append(sb, ' ')
			}
			sb = append(sb, s...)
		}
	}
	appendStr(meta["text"])
	appendStr(meta["title"])
	appendStr(meta["source"])
	if tags, ok := meta["tags"].([]string); ok {
		for _, t := range tags {
			appendStr(t)
		}
	} else if tags, ok := meta["tags"].([]any); ok {
		for _, t := range tags {
			appendStr(t)
		}
	}
	return string(sb)
}
