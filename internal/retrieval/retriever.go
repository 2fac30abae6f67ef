// Package retrieval answers similarity queries over stored chunks, either as
// individual hits or aggregated per source document.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/contextmore/internal/vectorstore"
)

// OversampleFactor multiplies top_k to get the store search limit, so that
// grouping by document has more than top_k chunks to work with.
const OversampleFactor = 4

// MaxTopK bounds top_k. Larger values are clamped.
const MaxTopK = 50

var (
	ErrInvalidTopK = errors.New("top_k must be positive")
	ErrEmptyQuery  = errors.New("query must not be empty")
)

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the store capability the retriever needs.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error)
}

// Query is a similarity search request.
type Query struct {
	Text       string
	TopK       int
	GroupByDoc bool
	// DocID restricts the search to one document when set.
	DocID string
}

// Hit is a single matching chunk.
type Hit struct {
	Text     string            `json:"text"`
	URL      string            `json:"url"`
	CallName string            `json:"call_name"`
	DocID    string            `json:"doc_id"`
	ChunkID  int               `json:"chunk_id"`
	Date     time.Time         `json:"date"`
	Score    float32           `json:"score"`
	FileName string            `json:"file_name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChunkHit is a chunk inside a grouped document result.
type ChunkHit struct {
	Text    string  `json:"text"`
	ChunkID int     `json:"chunk_id"`
	Score   float32 `json:"score"`
}

// DocumentHit aggregates the hits of one document.
type DocumentHit struct {
	DocID       string     `json:"doc_id"`
	CallName    string     `json:"call_name"`
	URL         string     `json:"url"`
	Date        time.Time  `json:"date"`
	Chunks      []ChunkHit `json:"chunks"`
	TotalChunks int        `json:"total_chunks"`
	AvgScore    float32    `json:"avg_score"`
	FileName    string     `json:"file_name,omitempty"`
}

// Results holds Hits for ungrouped queries and Documents for grouped ones.
type Results struct {
	Hits      []Hit
	Documents []DocumentHit
}

// Retriever combines query embedding and vector search.
type Retriever struct {
	embedder QueryEmbedder
	store    Searcher
	logger   *slog.Logger
}

// NewRetriever creates a Retriever backed by the given embedder and store.
func NewRetriever(embedder QueryEmbedder, store Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, logger: logger.With("component", "retrieval")}
}

// Search embeds q.Text and returns matching chunks. The store is asked for
// TopK*OversampleFactor candidates and all of them are returned; TopK only
// sizes the candidate pool.
func (r *Retriever) Search(ctx context.Context, q Query) (Results, error) {
	if q.TopK <= 0 {
		return Results{}, ErrInvalidTopK
	}
	if strings.TrimSpace(q.Text) == "" {
		return Results{}, ErrEmptyQuery
	}

	vec, err := r.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return Results{}, fmt.Errorf("embedding query: %w", err)
	}

	topK := min(q.TopK, MaxTopK)
	scored, err := r.store.Search(ctx, vec, topK*OversampleFactor, vectorstore.Filter{DocID: q.DocID})
	if err != nil {
		return Results{}, err
	}
	r.logger.Debug("search done", "top_k", topK, "candidates", len(scored), "grouped", q.GroupByDoc)

	if q.GroupByDoc {
		return Results{Documents: groupByDocument(scored)}, nil
	}
	return Results{Hits: toHits(scored)}, nil
}

func toHits(scored []vectorstore.ScoredPoint) []Hit {
	hits := make([]Hit, len(scored))
	for i, s := range scored {
		p := s.Payload
		hits[i] = Hit{
			Text:     p.Text,
			URL:      p.SourceIdentity,
			CallName: p.CallName,
			DocID:    p.DocID,
			ChunkID:  p.ChunkID,
			Date:     p.Date,
			Score:    s.Score,
			FileName: p.FileName,
			Metadata: p.Metadata,
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits
}

// groupByDocument groups hits by doc_id in first-seen order, averages their
// scores, orders chunks by chunk_id and documents by average score.
func groupByDocument(scored []vectorstore.ScoredPoint) []DocumentHit {
	index := make(map[string]int)
	var docs []DocumentHit
	var sums []float64

	for _, s := range scored {
		p := s.Payload
		i, ok := index[p.DocID]
		if !ok {
			i = len(docs)
			index[p.DocID] = i
			docs = append(docs, DocumentHit{
				DocID:       p.DocID,
				CallName:    p.CallName,
				URL:         p.SourceIdentity,
				Date:        p.Date,
				TotalChunks: p.TotalChunks,
				FileName:    p.FileName,
			})
			sums = append(sums, 0)
		}
		docs[i].Chunks = append(docs[i].Chunks, ChunkHit{Text: p.Text, ChunkID: p.ChunkID, Score: s.Score})
		sums[i] += float64(s.Score)
	}

	for i := range docs {
		docs[i].AvgScore = float32(sums[i] / float64(len(docs[i].Chunks)))
		sort.SliceStable(docs[i].Chunks, func(a, b int) bool {
			return docs[i].Chunks[a].ChunkID < docs[i].Chunks[b].ChunkID
		})
	}
	sort.SliceStable(docs, func(a, b int) bool { return docs[a].AvgScore > docs[b].AvgScore })
	return docs
}
