package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kalambet/contextmore/internal/vectorstore"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

type mockSearcher struct {
	searchFn func(ctx context.Context, vector []float32, limit int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error)
}

func (m *mockSearcher) Search(ctx context.Context, vector []float32, limit int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	return m.searchFn(ctx, vector, limit, filter)
}

func point(docID string, chunkID int, score float32) vectorstore.ScoredPoint {
	return vectorstore.ScoredPoint{
		ID:    docID + "-" + string(rune('a'+chunkID)),
		Score: score,
		Payload: vectorstore.Payload{
			Text:           "text " + docID,
			SourceIdentity: "https://example.com/" + docID,
			CallName:       "Call " + docID,
			DocID:          docID,
			ChunkID:        chunkID,
			Date:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			TotalChunks:    10,
		},
	}
}

func staticSearcher(points ...vectorstore.ScoredPoint) *mockSearcher {
	return &mockSearcher{
		searchFn: func(_ context.Context, _ []float32, _ int, _ vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
			return points, nil
		},
	}
}

func TestSearch_OversamplesLimit(t *testing.T) {
	var gotLimit int
	var gotFilter vectorstore.Filter
	r := NewRetriever(&mockEmbedder{}, &mockSearcher{
		searchFn: func(_ context.Context, _ []float32, limit int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
			gotLimit = limit
			gotFilter = filter
			return nil, nil
		},
	}, nil)

	if _, err := r.Search(context.Background(), Query{Text: "q", TopK: 5, DocID: "d1"}); err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if gotLimit != 20 {
		t.Errorf("limit = %d, want 20", gotLimit)
	}
	if gotFilter.DocID != "d1" {
		t.Errorf("filter doc_id = %q, want d1", gotFilter.DocID)
	}
}

func TestSearch_ClampsHugeTopK(t *testing.T) {
	var gotLimit int
	r := NewRetriever(&mockEmbedder{}, &mockSearcher{
		searchFn: func(_ context.Context, _ []float32, limit int, _ vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
			gotLimit = limit
			return nil, nil
		},
	}, nil)

	if _, err := r.Search(context.Background(), Query{Text: "q", TopK: math.MaxInt}); err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if gotLimit != MaxTopK*OversampleFactor {
		t.Errorf("limit = %d, want %d", gotLimit, MaxTopK*OversampleFactor)
	}
}

func TestSearch_UngroupedSortedAndNotTruncated(t *testing.T) {
	r := NewRetriever(&mockEmbedder{}, staticSearcher(
		point("a", 0, 0.5),
		point("b", 1, 0.9),
		point("a", 2, 0.7),
		point("c", 0, 0.7),
	), nil)

	res, err := r.Search(context.Background(), Query{Text: "q", TopK: 1})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if res.Documents != nil {
		t.Error("ungrouped search returned documents")
	}
	if len(res.Hits) != 4 {
		t.Fatalf("got %d hits, want 4", len(res.Hits))
	}

	wantDocs := []string{"b", "a", "c", "a"}
	for i, h := range res.Hits {
		if h.DocID != wantDocs[i] {
			t.Errorf("hit %d doc_id = %q, want %q", i, h.DocID, wantDocs[i])
		}
	}
	if res.Hits[0].URL != "https://example.com/b" || res.Hits[0].CallName != "Call b" || res.Hits[0].ChunkID != 1 {
		t.Errorf("hit payload not mapped: %+v", res.Hits[0])
	}
}

func TestSearch_GroupByDocument(t *testing.T) {
	r := NewRetriever(&mockEmbedder{}, staticSearcher(
		point("a", 3, 0.9),
		point("b", 0, 0.8),
		point("a", 1, 0.5),
		point("b", 2, 0.8),
		point("c", 0, 0.6),
	), nil)

	res, err := r.Search(context.Background(), Query{Text: "q", TopK: 2, GroupByDoc: true})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if res.Hits != nil {
		t.Error("grouped search returned hits")
	}
	if len(res.Documents) != 3 {
		t.Fatalf("got %d documents, want 3", len(res.Documents))
	}

	// b: 0.8, a: 0.7, c: 0.6
	wantOrder := []string{"b", "a", "c"}
	for i, d := range res.Documents {
		if d.DocID != wantOrder[i] {
			t.Errorf("document %d = %q, want %q", i, d.DocID, wantOrder[i])
		}
	}

	a := res.Documents[1]
	if len(a.Chunks) != 2 || a.Chunks[0].ChunkID != 1 || a.Chunks[1].ChunkID != 3 {
		t.Errorf("chunks of a not ordered by chunk_id: %+v", a.Chunks)
	}
	if diff := a.AvgScore - 0.7; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("avg_score of a = %v, want 0.7", a.AvgScore)
	}
	if a.TotalChunks != 10 || a.URL != "https://example.com/a" {
		t.Errorf("document fields not mapped: %+v", a)
	}
}

func TestSearch_Validation(t *testing.T) {
	r := NewRetriever(&mockEmbedder{}, staticSearcher(), nil)

	if _, err := r.Search(context.Background(), Query{Text: "q", TopK: 0}); !errors.Is(err, ErrInvalidTopK) {
		t.Errorf("TopK=0 error = %v, want ErrInvalidTopK", err)
	}
	if _, err := r.Search(context.Background(), Query{Text: "  ", TopK: 3}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank query error = %v, want ErrEmptyQuery", err)
	}
}

func TestSearch_EmbedFails(t *testing.T) {
	embedErr := errors.New("model down")
	r := NewRetriever(&mockEmbedder{
		embedFn: func(_ context.Context, _ string) ([]float32, error) { return nil, embedErr },
	}, staticSearcher(), nil)

	_, err := r.Search(context.Background(), Query{Text: "q", TopK: 3})
	if !errors.Is(err, embedErr) {
		t.Errorf("error = %v, want wrapped embed error", err)
	}
}

func TestSearch_StoreFails(t *testing.T) {
	storeErr := &vectorstore.StoreError{Op: "search", Err: errors.New("unreachable")}
	r := NewRetriever(&mockEmbedder{}, &mockSearcher{
		searchFn: func(_ context.Context, _ []float32, _ int, _ vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
			return nil, storeErr
		},
	}, nil)

	_, err := r.Search(context.Background(), Query{Text: "q", TopK: 3})
	var se *vectorstore.StoreError
	if !errors.As(err, &se) {
		t.Errorf("error = %v, want *StoreError", err)
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	r := NewRetriever(&mockEmbedder{}, staticSearcher(), nil)

	res, err := r.Search(context.Background(), Query{Text: "q", TopK: 3, GroupByDoc: true})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res.Documents) != 0 {
		t.Errorf("got %d documents from an empty store", len(res.Documents))
	}
}
