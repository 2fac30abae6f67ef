// Package ingest turns extracted document text into stored chunk vectors,
// resolving document identity so that re-ingesting a source replaces it in
// place.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/contextmore/internal/chunker"
	"github.com/kalambet/contextmore/internal/registry"
	"github.com/kalambet/contextmore/internal/storage"
	"github.com/kalambet/contextmore/internal/vectorstore"
)

// JobTypeReingest is the journal job type for interrupted updates.
const JobTypeReingest = "reingest"

// Embedder produces one vector per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Journal records write-ahead markers for updates the store cannot apply
// atomically. Entries are keyed by source identity so a later ingest can
// take over the doc_id of an interrupted one and retire its entries.
type Journal interface {
	BeginUpdate(job storage.Job) error
	CompleteUpdate(id string) error
	ReleaseUpdate(id string, errMsg string) error
	OpenUpdates(jobType, subject string) ([]storage.Job, error)
	SupersedeUpdates(jobType, subject, exceptID string) (int, error)
	JobStatus(id string) (string, error)
}

// Request is one document to ingest.
type Request struct {
	SourceIdentity string            `json:"source_identity"`
	CallName       string            `json:"call_name"`
	Text           string            `json:"text"`
	FileName       string            `json:"file_name,omitempty"`
	FileType       string            `json:"file_type,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	// DocID is used when the identity has no stored document. Recovery sets
	// it so a replay keeps the doc_id of the interrupted update.
	DocID string `json:"doc_id,omitempty"`

	// replay marks a request issued by the recovery worker, which owns the
	// retry of its own journal entry. jobID and journaledAt identify that
	// entry.
	replay      bool
	jobID       string
	journaledAt time.Time
}

// Validate checks the request before any side effect.
func (r Request) Validate() error {
	if strings.TrimSpace(r.SourceIdentity) == "" {
		return fmt.Errorf("%w: source identity is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.CallName) == "" {
		return fmt.Errorf("%w: call_name is required", ErrInvalidRequest)
	}
	return nil
}

// Result describes a stored document.
type Result struct {
	DocID          string    `json:"doc_id"`
	CallName       string    `json:"call_name"`
	SourceIdentity string    `json:"url"`
	FileName       string    `json:"file_name,omitempty"`
	Date           time.Time `json:"date"`
	IsUpdate       bool      `json:"is_update"`
	ChunkCount     int       `json:"chunk_count"`
}

// Pipeline ingests documents. It is safe for concurrent use; requests for
// the same source identity are serialized.
type Pipeline struct {
	registry *registry.Registry
	store    vectorstore.VectorStore
	embedder Embedder
	chunker  *chunker.Chunker
	journal  Journal
	fetcher  Fetcher
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunker overrides the default 300-word chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithJournal enables write-ahead markers for non-atomic updates.
func WithJournal(j Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(reg *registry.Registry, store vectorstore.VectorStore, embedder Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: reg,
		store:    store,
		embedder: embedder,
		chunker:  chunker.New(chunker.DefaultWordsPerChunk),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "ingest")
	return p
}

// Ingest chunks, embeds and stores req. A source identity that already has
// a document keeps its doc_id and has all of its chunks replaced.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	unlock, err := p.registry.Lock(ctx, req.SourceIdentity)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	preferredID := req.DocID
	if req.replay {
		if err := p.checkReplay(ctx, req); err != nil {
			return Result{}, err
		}
	} else if preferredID == "" {
		preferredID = p.journaledDocID(req.SourceIdentity)
	}

	upd, err := p.registry.BeginUpdate(ctx, req.SourceIdentity, preferredID)
	if err != nil {
		return Result{}, err
	}

	chunks := p.chunker.Chunk(req.Text)
	if len(chunks) == 0 {
		return Result{}, ErrEmptyContent
	}

	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return Result{}, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	date := p.now().UTC()
	points := buildPoints(req, upd.DocID, date, chunks, vectors)

	switch r, atomic := p.store.(vectorstore.Replacer); {
	case atomic:
		if err = r.ReplaceDocument(ctx, upd.DocID, points); err == nil {
			p.supersede(req, "")
		}
	case upd.IsUpdate:
		err = p.replace(ctx, req, upd.DocID, points)
	default:
		if err = p.store.Upsert(ctx, points); err == nil {
			p.supersede(req, "")
		}
	}
	if err != nil {
		return Result{}, err
	}

	action := "created"
	if upd.IsUpdate {
		action = "updated"
	}
	p.logger.Info("document ingested",
		"action", action,
		"doc_id", upd.DocID,
		"source", req.SourceIdentity,
		"chunks", len(chunks),
	)

	return Result{
		DocID:          upd.DocID,
		CallName:       req.CallName,
		SourceIdentity: req.SourceIdentity,
		FileName:       req.FileName,
		Date:           date,
		IsUpdate:       upd.IsUpdate,
		ChunkCount:     len(chunks),
	}, nil
}

// replace deletes the old chunks of docID and writes points. A failure after
// the delete leaves the document missing; the journal entry is released so
// the recovery worker can replay the request.
func (p *Pipeline) replace(ctx context.Context, req Request, docID string, points []vectorstore.Point) error {
	var jobID string
	if p.journal != nil && !req.replay {
		jobID = uuid.New().String()
		replayReq := req
		replayReq.DocID = docID
		payload, err := json.Marshal(replayReq)
		if err != nil {
			return fmt.Errorf("encoding journal entry: %w", err)
		}
		if err := p.journal.BeginUpdate(storage.Job{
			ID:          jobID,
			Type:        JobTypeReingest,
			Subject:     req.SourceIdentity,
			PayloadJSON: string(payload),
		}); err != nil {
			return fmt.Errorf("recording update of %s: %w", docID, err)
		}
	}

	if err := p.registry.ReplaceChunks(ctx, docID); err != nil {
		if jobID != "" {
			if cerr := p.journal.CompleteUpdate(jobID); cerr != nil {
				p.logger.Warn("clearing journal entry failed", "job_id", jobID, "error", cerr)
			}
		}
		return err
	}
	// From here on the new entry, if any, is the only one worth replaying.
	p.supersede(req, jobID)

	if err := p.store.Upsert(ctx, points); err != nil {
		if jobID != "" {
			if rerr := p.journal.ReleaseUpdate(jobID, err.Error()); rerr != nil {
				p.logger.Error("releasing journal entry failed", "job_id", jobID, "error", rerr)
			}
		}
		p.logger.Error("update interrupted after delete", "doc_id", docID, "source", req.SourceIdentity, "error", err)
		return &PartialUpdateError{DocID: docID, SourceIdentity: req.SourceIdentity, Err: err}
	}

	if jobID != "" {
		if err := p.journal.CompleteUpdate(jobID); err != nil {
			p.logger.Warn("clearing journal entry failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// journaledDocID returns the doc_id of the newest unfinished journal entry
// for identity, so that re-running an interrupted ingest keeps its doc_id.
func (p *Pipeline) journaledDocID(identity string) string {
	if p.journal == nil {
		return ""
	}
	jobs, err := p.journal.OpenUpdates(JobTypeReingest, identity)
	if err != nil {
		p.logger.Warn("reading journal failed", "source", identity, "error", err)
		return ""
	}
	for _, job := range jobs {
		var entry Request
		if err := json.Unmarshal([]byte(job.PayloadJSON), &entry); err != nil {
			continue
		}
		if entry.DocID != "" {
			return entry.DocID
		}
	}
	return ""
}

// supersede retires the open journal entries of req's source, except keep.
// Replays leave the journal to the worker.
func (p *Pipeline) supersede(req Request, keep string) {
	if p.journal == nil || req.replay {
		return
	}
	n, err := p.journal.SupersedeUpdates(JobTypeReingest, req.SourceIdentity, keep)
	if err != nil {
		p.logger.Warn("retiring journal entries failed", "source", req.SourceIdentity, "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("journal entries superseded", "source", req.SourceIdentity, "count", n)
	}
}

// checkReplay reports ErrSuperseded when the journal entry behind a replay
// was retired, or when the stored document was written after the entry.
func (p *Pipeline) checkReplay(ctx context.Context, req Request) error {
	if p.journal != nil && req.jobID != "" {
		status, err := p.journal.JobStatus(req.jobID)
		if err != nil {
			return fmt.Errorf("reading journal entry %s: %w", req.jobID, err)
		}
		if status == storage.JobSuperseded {
			return ErrSuperseded
		}
	}
	d, ok := p.store.(vectorstore.Dater)
	if !ok || req.journaledAt.IsZero() {
		return nil
	}
	date, found, err := d.LatestDate(ctx, req.SourceIdentity)
	if err != nil {
		return err
	}
	// Journal timestamps have second resolution.
	if found && date.Truncate(time.Second).After(req.journaledAt) {
		return ErrSuperseded
	}
	return nil
}

func buildPoints(req Request, docID string, date time.Time, chunks []string, vectors [][]float32) []vectorstore.Point {
	points := make([]vectorstore.Point, len(chunks))
	for i, text := range chunks {
		points[i] = vectorstore.Point{
			ID:     uuid.New().String(),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				Text:           text,
				SourceIdentity: req.SourceIdentity,
				CallName:       req.CallName,
				DocID:          docID,
				ChunkID:        i,
				Date:           date,
				TotalChunks:    len(chunks),
				FileName:       req.FileName,
				FileType:       req.FileType,
				Metadata:       req.Metadata,
			},
		}
	}
	return points
}
