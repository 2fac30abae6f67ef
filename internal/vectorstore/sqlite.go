package vectorstore

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Compile-time checks.
var (
	_ VectorStore = (*SQLiteStore)(nil)
	_ Replacer    = (*SQLiteStore)(nil)
	_ Counter     = (*SQLiteStore)(nil)
	_ Dater       = (*SQLiteStore)(nil)
)

const dimensionKey = "vector_dimension"

// createdLayout is fixed-width so created_at sorts lexically.
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore provides vector storage and brute-force cosine similarity search
// backed by SQLite. This is the default implementation of VectorStore.
//
// The points and store_meta tables are created by the storage migrations.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Init records the vector dimension on first use and rejects a different
// dimension afterwards, since stored vectors cannot be compared across widths.
func (s *SQLiteStore) Init(ctx context.Context, dim int) error {
	if dim <= 0 {
		return storeErr("init", fmt.Errorf("invalid dimension %d", dim))
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, dimensionKey).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO store_meta (key, value) VALUES (?, ?)`, dimensionKey, strconv.Itoa(dim)); err != nil {
			return storeErr("init", fmt.Errorf("recording dimension: %w", err))
		}
	case err != nil:
		return storeErr("init", fmt.Errorf("reading dimension: %w", err))
	default:
		n, err := strconv.Atoi(stored)
		if err != nil {
			return storeErr("init", fmt.Errorf("parsing stored dimension %q: %w", stored, err))
		}
		if n != dim {
			return storeErr("init", fmt.Errorf("store holds %d-dimensional vectors, configured for %d", n, dim))
		}
	}

	s.dim = dim
	return nil
}

// Upsert adds or overwrites points in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("upsert", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if err := s.insertPoints(ctx, tx, points); err != nil {
		return storeErr("upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("upsert", fmt.Errorf("committing: %w", err))
	}
	return nil
}

// ReplaceDocument deletes every point of docID and writes points in a single
// transaction. Readers see either the old or the new version.
func (s *SQLiteStore) ReplaceDocument(ctx context.Context, docID string, points []Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("replace", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE doc_id = ?`, docID); err != nil {
		return storeErr("replace", fmt.Errorf("deleting points of %s: %w", docID, err))
	}
	if err := s.insertPoints(ctx, tx, points); err != nil {
		return storeErr("replace", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("replace", fmt.Errorf("committing: %w", err))
	}
	return nil
}

func (s *SQLiteStore) insertPoints(ctx context.Context, tx *sql.Tx, points []Point) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (id, doc_id, source_identity, chunk_id, embedding, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_id = excluded.doc_id,
			source_identity = excluded.source_identity,
			chunk_id = excluded.chunk_id,
			embedding = excluded.embedding,
			payload_json = excluded.payload_json,
			created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if s.dim > 0 && len(p.Vector) != s.dim {
			return fmt.Errorf("point %s has dimension %d, store expects %d", p.ID, len(p.Vector), s.dim)
		}
		payload, err := json.Marshal(p.Payload.Map())
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", p.ID, err)
		}
		createdAt := p.Payload.Date
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Payload.DocID, p.Payload.SourceIdentity, p.Payload.ChunkID,
			encodeFloat32s(p.Vector), string(payload), createdAt.UTC().Format(createdLayout)); err != nil {
			return fmt.Errorf("inserting point %s: %w", p.ID, err)
		}
	}
	return nil
}

// DeleteByDocID removes all points of a document.
func (s *SQLiteStore) DeleteByDocID(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM points WHERE doc_id = ?`, docID); err != nil {
		return storeErr("delete", fmt.Errorf("deleting points of %s: %w", docID, err))
	}
	return nil
}

// FindBySourceIdentity returns the doc_id of the most recently written point
// for identity.
func (s *SQLiteStore) FindBySourceIdentity(ctx context.Context, identity string) (string, bool, error) {
	var docID string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id FROM points WHERE source_identity = ?
		ORDER BY created_at DESC LIMIT 1`, identity).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("find", fmt.Errorf("looking up %s: %w", identity, err))
	}
	return docID, true, nil
}

// LatestDate returns the ingestion date of the newest point for identity.
func (s *SQLiteStore) LatestDate(ctx context.Context, identity string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM points WHERE source_identity = ?
		ORDER BY created_at DESC LIMIT 1`, identity).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storeErr("find", fmt.Errorf("dating %s: %w", identity, err))
	}
	t, err := time.Parse(createdLayout, raw)
	if err != nil {
		return time.Time{}, false, storeErr("find", fmt.Errorf("parsing date of %s: %w", identity, err))
	}
	return t, true, nil
}

// Count returns the number of stored points.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&count); err != nil {
		return 0, storeErr("count", err)
	}
	return count, nil
}

// idScore holds only the ID and score during the scan phase of Search.
// Full payloads are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search, returning the limit
// most similar points. Equal scores are ordered by point ID.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	query := `SELECT id, embedding FROM points`
	var args []any
	if filter.DocID != "" {
		query += ` WHERE doc_id = ?`
		args = append(args, filter.DocID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search", fmt.Errorf("querying vectors: %w", err))
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, storeErr("search", fmt.Errorf("scanning row: %w", err))
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, storeErr("search", fmt.Errorf("decoding embedding for %s: %w", id, err))
		}

		cand := idScore{ID: id, Score: cosine(vector, buf, queryNorm)}
		if h.Len() < limit {
			heap.Push(h, cand)
		} else if h.less((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search", fmt.Errorf("iterating rows: %w", err))
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch payloads only for the top-K IDs.
	topIDs := make([]any, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := range topIDs {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	fullRows, err := s.db.QueryContext(ctx,
		`SELECT id, payload_json FROM points WHERE id IN (?`+strings.Repeat(",?", len(topIDs)-1)+`)`, topIDs...)
	if err != nil {
		return nil, storeErr("search", fmt.Errorf("fetching top-K payloads: %w", err))
	}
	defer fullRows.Close()

	results := make([]ScoredPoint, 0, len(topIDs))
	for fullRows.Next() {
		var id, raw string
		if err := fullRows.Scan(&id, &raw); err != nil {
			return nil, storeErr("search", fmt.Errorf("scanning payload: %w", err))
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, storeErr("search", fmt.Errorf("decoding payload for %s: %w", id, err))
		}
		results = append(results, ScoredPoint{ID: id, Payload: payload, Score: scores[id]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, storeErr("search", fmt.Errorf("iterating payloads: %w", err))
	}

	// IN query doesn't preserve order.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func decodePayload(raw string) (Payload, error) {
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return Payload{}, err
	}
	return PayloadFromMap(m)
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2 norm of a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore: the root is the weakest candidate.
// Among equal scores the larger ID is weaker, which keeps results stable.
type idScoreHeap []idScore

func (h idScoreHeap) less(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h.less(h[i], h[j]) }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
