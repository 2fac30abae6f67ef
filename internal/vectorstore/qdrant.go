package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	_ VectorStore = (*QdrantStore)(nil)
	_ Counter     = (*QdrantStore)(nil)
	_ Dater       = (*QdrantStore)(nil)
)

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantStore is a minimal REST client to Qdrant using cosine distance.
// Qdrant has no multi-operation transactions, so it does not implement
// Replacer.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

// errNotFound marks a 404 from Qdrant.
var errNotFound = errors.New("not found")

// NewQdrantStore creates a QdrantStore. A zero timeout defaults to 15s.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *QdrantStore) collectionURL(suffix string) string {
	return s.url + "/collections/" + url.PathEscape(s.collection) + suffix
}

// Init creates the collection if missing and ensures keyword indexes on the
// doc_id and url payload fields. An existing collection with a different
// vector size is an error.
func (s *QdrantStore) Init(ctx context.Context, dim int) error {
	if dim <= 0 {
		return storeErr("init", fmt.Errorf("invalid dimension %d", dim))
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	switch {
	case errors.Is(err, errNotFound):
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dim,
				"distance": "Cosine",
			},
		}
		if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
			return storeErr("init", fmt.Errorf("creating collection %s: %w", s.collection, err))
		}
	case err != nil:
		return storeErr("init", fmt.Errorf("reading collection %s: %w", s.collection, err))
	default:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dim {
			return storeErr("init", fmt.Errorf("collection %s holds %d-dimensional vectors, configured for %d", s.collection, size, dim))
		}
	}

	for _, field := range []string{KeyDocID, KeyURL} {
		body := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), body, nil); err != nil {
			return storeErr("init", fmt.Errorf("indexing payload field %s: %w", field, err))
		}
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert writes points and waits for them to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, len(points))}
	for i, p := range points {
		body.Points[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload.Map()}
	}
	return storeErr("upsert", s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil))
}

func matchFilter(key, value string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": key, "match": map[string]any{"value": value}},
		},
	}
}

// DeleteByDocID removes points by payload filter.
func (s *QdrantStore) DeleteByDocID(ctx context.Context, docID string) error {
	body := map[string]any{"filter": matchFilter(KeyDocID, docID)}
	return storeErr("delete", s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil))
}

// Search runs a nearest-neighbour query with payloads.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter.DocID != "" {
		req["filter"] = matchFilter(KeyDocID, filter.DocID)
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, storeErr("search", err)
	}

	results := make([]ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload, err := PayloadFromMap(r.Payload)
		if err != nil {
			return nil, storeErr("search", fmt.Errorf("decoding payload: %w", err))
		}
		results = append(results, ScoredPoint{ID: fmt.Sprint(r.ID), Payload: payload, Score: r.Score})
	}
	return results, nil
}

// FindBySourceIdentity scrolls for one point whose url payload matches.
func (s *QdrantStore) FindBySourceIdentity(ctx context.Context, identity string) (string, bool, error) {
	req := map[string]any{
		"filter":       matchFilter(KeyURL, identity),
		"limit":        1,
		"with_payload": []string{KeyDocID},
		"with_vector":  false,
	}
	var resp struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp); err != nil {
		return "", false, storeErr("find", err)
	}
	if len(resp.Result.Points) == 0 {
		return "", false, nil
	}
	docID := asString(resp.Result.Points[0].Payload[KeyDocID])
	return docID, docID != "", nil
}

// LatestDate reads the date payload of one point for identity. Every chunk
// of a document carries the same date.
func (s *QdrantStore) LatestDate(ctx context.Context, identity string) (time.Time, bool, error) {
	req := map[string]any{
		"filter":       matchFilter(KeyURL, identity),
		"limit":        1,
		"with_payload": []string{KeyDate},
		"with_vector":  false,
	}
	var resp struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp); err != nil {
		return time.Time{}, false, storeErr("find", err)
	}
	if len(resp.Result.Points) == 0 {
		return time.Time{}, false, nil
	}
	raw := asString(resp.Result.Points[0].Payload[KeyDate])
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, storeErr("find", fmt.Errorf("parsing date of %s: %w", identity, err))
	}
	return t, true, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, storeErr("count", err)
	}
	return resp.Result.Count, nil
}

func (s *QdrantStore) do(ctx context.Context, method, endpoint string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
