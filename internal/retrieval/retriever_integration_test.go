package retrieval

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/kalambet/contextmore/internal/chunker"
	"github.com/kalambet/contextmore/internal/embedding"
	"github.com/kalambet/contextmore/internal/ingest"
	"github.com/kalambet/contextmore/internal/registry"
	"github.com/kalambet/contextmore/internal/storage"
	"github.com/kalambet/contextmore/internal/vectorstore"
)

const (
	nativeDim = 6
	storeDim  = 16
)

// bagOfWordsEngine hashes words into a small native vector so that texts
// sharing words score higher.
type bagOfWordsEngine struct{}

func (bagOfWordsEngine) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, nativeDim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%nativeDim]++
		}
		out[i] = v
	}
	return out, nil
}

func (bagOfWordsEngine) IsRunning(context.Context) bool { return true }

func setupIntegration(t *testing.T) (*ingest.Pipeline, *Retriever) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := vectorstore.NewSQLiteStore(db.DB())
	if err := store.Init(context.Background(), storeDim); err != nil {
		t.Fatalf("Init: %v", err)
	}

	adapter := embedding.NewAdapter(bagOfWordsEngine{}, "bow", embedding.Options{TargetDim: storeDim})
	p := ingest.NewPipeline(registry.New(store), store, adapter, ingest.WithChunker(chunker.New(4)))
	return p, NewRetriever(adapter, store, nil)
}

func TestRetrieve_EndToEnd(t *testing.T) {
	p, r := setupIntegration(t)
	ctx := context.Background()

	apples, err := p.Ingest(ctx, ingest.Request{
		SourceIdentity: "file://apples.txt",
		CallName:       "Apples",
		Text:           "apple apple orchard apple harvest apple orchard apple",
	})
	if err != nil {
		t.Fatalf("Ingest apples: %v", err)
	}
	if _, err := p.Ingest(ctx, ingest.Request{
		SourceIdentity: "https://example.com/rockets",
		CallName:       "Rockets",
		Text:           "rocket engine thrust nozzle rocket fuel launch pad",
	}); err != nil {
		t.Fatalf("Ingest rockets: %v", err)
	}

	res, err := r.Search(ctx, Query{Text: "apple orchard", TopK: 1, GroupByDoc: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("got %d documents, want 2", len(res.Documents))
	}
	top := res.Documents[0]
	if top.DocID != apples.DocID {
		t.Errorf("top document = %q (%s), want apples", top.DocID, top.CallName)
	}
	if top.TotalChunks != 2 || len(top.Chunks) != 2 {
		t.Errorf("apples chunks = %d/%d, want 2/2", len(top.Chunks), top.TotalChunks)
	}
	if top.Chunks[0].ChunkID != 0 || top.Chunks[1].ChunkID != 1 {
		t.Errorf("chunks not ordered by chunk_id: %+v", top.Chunks)
	}

	// Re-ingesting replaces chunks under the same doc_id.
	updated, err := p.Ingest(ctx, ingest.Request{
		SourceIdentity: "file://apples.txt",
		CallName:       "Apples",
		Text:           "apple",
	})
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if updated.DocID != apples.DocID || !updated.IsUpdate {
		t.Errorf("re-ingest = %+v, want update of %s", updated, apples.DocID)
	}

	res, err = r.Search(ctx, Query{Text: "apple", TopK: 5, DocID: apples.DocID})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Text != "apple" || res.Hits[0].ChunkID != 0 {
		t.Errorf("hits after update = %+v, want single chunk", res.Hits)
	}
}
