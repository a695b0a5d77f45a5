// Package vectorindex implements C2, the VectorIndex abstraction, against a
// Pinecone serverless index.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// Embedder is the subset of C1 the index needs: embedding a single query
// string into the dense vector space queries are issued against.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// UpsertItem is one vector to write through Upsert.
type UpsertItem struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Pinecone implements C2 against a Pinecone serverless index. A zero-value
// Pinecone (no client) is "misconfigured": Query returns (nil, nil) and logs
// a warning rather than failing, per contract.
type Pinecone struct {
	embedder  Embedder
	client    *pinecone.Client
	indexName string
	namespace string
	log       *slog.Logger

	mu   sync.RWMutex
	host string
}

// New creates a Pinecone-backed VectorIndex. apiKey or indexName empty means
// the backend is misconfigured: Query degrades to (nil, nil) with a warning,
// Upsert is a no-op logged at warning level.
func New(embedder Embedder, apiKey, indexName, namespace string, log *slog.Logger) (*Pinecone, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Pinecone{
		embedder:  embedder,
		indexName: strings.TrimSpace(indexName),
		namespace: namespace,
		log:       log.With("component", "vectorindex.Pinecone"),
	}

	if apiKey == "" || p.indexName == "" {
		p.log.Warn("vectorindex.Pinecone: missing api key or index name, backend disabled")
		return p, nil
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("vectorindex.New: %w", err)
	}
	p.client = client
	return p, nil
}

func (p *Pinecone) configured() bool {
	return p.client != nil && p.indexName != ""
}

// resolveConn describes and connects to the index's host, caching the host
// after first resolution.
func (p *Pinecone) resolveConn(ctx context.Context) (*pinecone.IndexConnection, error) {
	p.mu.RLock()
	host := p.host
	p.mu.RUnlock()

	if host == "" {
		desc, err := p.client.DescribeIndex(ctx, p.indexName)
		if err != nil {
			return nil, fmt.Errorf("describe index %q: %w", p.indexName, err)
		}
		host = desc.Host
		p.mu.Lock()
		p.host = host
		p.mu.Unlock()
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: host, Namespace: p.namespace})
	if err != nil {
		return nil, fmt.Errorf("connect to index %q: %w", p.indexName, err)
	}
	return conn, nil
}

// Query embeds queryText via C1 and returns the topK nearest Matches ordered
// by descending score, plus the highest score seen. A misconfigured backend
// returns (nil, nil) with a warning log rather than an error.
func (p *Pinecone) Query(ctx context.Context, queryText string, topK int) ([]model.Match, *float64, error) {
	if !p.configured() {
		p.log.Warn("vectorindex.Pinecone.Query: backend not configured, returning no matches")
		return nil, nil, nil
	}
	if topK <= 0 {
		return nil, nil, nil
	}

	vec, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, nil, fmt.Errorf("vectorindex.Pinecone.Query: embed: %w", err)
	}

	conn, err := p.resolveConn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("vectorindex.Pinecone.Query: %w", err)
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vectorindex.Pinecone.Query: %w", err)
	}

	matches := make([]model.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil {
			continue
		}
		matches = append(matches, model.Match{
			ID:       m.Vector.Id,
			Score:    float64(m.Score),
			Metadata: metadataToMap(m.Vector.Metadata),
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	var highest *float64
	if len(matches) > 0 {
		h := matches[0].Score
		highest = &h
	}

	return matches, highest, nil
}

// Upsert writes vectors and metadata, used to persist user corrections. A
// misconfigured backend logs a warning and returns nil.
func (p *Pinecone) Upsert(ctx context.Context, items []UpsertItem) error {
	if !p.configured() {
		p.log.Warn("vectorindex.Pinecone.Upsert: backend not configured, dropping upsert")
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	conn, err := p.resolveConn(ctx)
	if err != nil {
		return fmt.Errorf("vectorindex.Pinecone.Upsert: %w", err)
	}

	vectors := make([]*pinecone.Vector, 0, len(items))
	for _, it := range items {
		meta, err := structpb.NewStruct(it.Metadata)
		if err != nil {
			return fmt.Errorf("vectorindex.Pinecone.Upsert: metadata for %q: %w", it.ID, err)
		}
		values := it.Vector
		vectors = append(vectors, &pinecone.Vector{
			Id:       it.ID,
			Values:   &values,
			Metadata: meta,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("vectorindex.Pinecone.Upsert: %w", err)
	}
	return nil
}

func metadataToMap(s *structpb.Struct) map[string]any {
	if s == nil {
		return nil
	}
	return s.AsMap()
}
