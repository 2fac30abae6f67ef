// Package registry maps source identities to stable document IDs and owns
// the per-identity serialization of document updates.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kalambet/contextmore/internal/vectorstore"
)

// Store is the subset of the vector store the registry depends on.
type Store interface {
	FindBySourceIdentity(ctx context.Context, identity string) (string, bool, error)
	DeleteByDocID(ctx context.Context, docID string) error
}

// Update is the outcome of BeginUpdate.
type Update struct {
	DocID    string
	IsUpdate bool
}

// Registry resolves documents by source identity. Every lookup is a fresh
// store query; nothing about documents is cached between calls.
type Registry struct {
	store  Store
	locks  *KeyedMutex
	newID  func() string
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides doc_id minting.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates a Registry backed by store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		locks:  NewKeyedMutex(),
		newID:  func() string { return uuid.New().String() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Lock acquires the per-identity lock. Resolve, delete and upsert for one
// identity must happen while it is held.
func (r *Registry) Lock(ctx context.Context, identity string) (func(), error) {
	unlock, err := r.locks.Lock(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", identity, err)
	}
	return unlock, nil
}

// Resolve returns the doc_id currently stored for identity.
func (r *Registry) Resolve(ctx context.Context, identity string) (string, bool, error) {
	return r.store.FindBySourceIdentity(ctx, identity)
}

// BeginUpdate returns the existing doc_id for identity with IsUpdate set, or
// a new one. preferredID, when non-empty, is used instead of minting; it lets
// an interrupted update be replayed under its original doc_id after all of
// its points were deleted.
func (r *Registry) BeginUpdate(ctx context.Context, identity, preferredID string) (Update, error) {
	docID, found, err := r.Resolve(ctx, identity)
	if err != nil {
		return Update{}, fmt.Errorf("resolving %s: %w", identity, err)
	}
	if found {
		return Update{DocID: docID, IsUpdate: true}, nil
	}
	if preferredID != "" {
		return Update{DocID: preferredID, IsUpdate: true}, nil
	}
	return Update{DocID: r.newID()}, nil
}

// ReplaceChunks deletes every chunk of docID. It returns only after the
// store has applied the delete.
func (r *Registry) ReplaceChunks(ctx context.Context, docID string) error {
	if err := r.store.DeleteByDocID(ctx, docID); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", docID, err)
	}
	return nil
}

// Delete removes a document and all of its chunks.
func (r *Registry) Delete(ctx context.Context, docID string) error {
	if err := r.store.DeleteByDocID(ctx, docID); err != nil {
		return fmt.Errorf("deleting document %s: %w", docID, err)
	}
	r.logger.Info("document deleted", "doc_id", docID)
	return nil
}

var _ Store = (vectorstore.VectorStore)(nil)
