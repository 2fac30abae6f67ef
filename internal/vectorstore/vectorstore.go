// Package vectorstore defines the point storage contract used by ingestion
// and retrieval, with SQLite and Qdrant implementations.
package vectorstore

import (
	"context"
	"fmt"
	"time"
)

// VectorStore is the capability set the pipeline needs from a vector index.
//
// Higher scores mean more similar. Search results are ordered by descending
// score; ties resolve in a stable, store-defined order.
type VectorStore interface {
	// Init prepares the index for vectors of the given dimension. Idempotent.
	Init(ctx context.Context, dim int) error

	// Upsert inserts or overwrites points, keyed by point ID.
	Upsert(ctx context.Context, points []Point) error

	// DeleteByDocID removes every point whose payload doc_id matches.
	// Deleting an unknown document is not an error.
	DeleteByDocID(ctx context.Context, docID string) error

	// Search returns up to limit nearest points to vector.
	Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]ScoredPoint, error)

	// FindBySourceIdentity returns the doc_id stored for a source identity.
	FindBySourceIdentity(ctx context.Context, identity string) (docID string, found bool, err error)
}

// Replacer is implemented by stores that can swap all of a document's points
// in one atomic operation.
type Replacer interface {
	ReplaceDocument(ctx context.Context, docID string, points []Point) error
}

// Dater is implemented by stores that can report when the document of a
// source identity was last written.
type Dater interface {
	LatestDate(ctx context.Context, identity string) (date time.Time, found bool, err error)
}

// Counter is implemented by stores that can report their size.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Point is one stored chunk vector.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string
	Payload Payload
	Score   float32
}

// Filter narrows a search. The zero value matches everything.
type Filter struct {
	DocID string
}

// StoreError wraps any failure reported by a vector store backend.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
