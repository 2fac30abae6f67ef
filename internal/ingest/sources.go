package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/contextmore/internal/extract"
	"github.com/kalambet/contextmore/internal/registry"
)

// ErrNoFetcher is returned by IngestURL when the pipeline has no fetcher.
var ErrNoFetcher = errors.New("url ingestion is not configured")

// Fetcher downloads a URL and returns its text.
type Fetcher interface {
	Fetch(ctx context.Context, req extract.FetchRequest) (string, error)
}

// WithFetcher enables IngestURL.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

// URLRequest is a web page to fetch and ingest.
type URLRequest struct {
	URL       string
	CallName  string
	Headers   map[string]string
	BasicAuth *extract.BasicAuth
	Metadata  map[string]string
}

// IngestURL fetches a page and ingests its text under the canonical form of
// its URL. Credentials are only used for the fetch and are never stored.
func (p *Pipeline) IngestURL(ctx context.Context, req URLRequest) (Result, error) {
	if p.fetcher == nil {
		return Result{}, ErrNoFetcher
	}
	identity, err := registry.CanonicalURL(req.URL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.CallName) == "" {
		return Result{}, fmt.Errorf("%w: call_name is required", ErrInvalidRequest)
	}

	text, err := p.fetcher.Fetch(ctx, extract.FetchRequest{
		URL:       req.URL,
		Headers:   req.Headers,
		BasicAuth: req.BasicAuth,
	})
	if err != nil {
		return Result{}, err
	}

	return p.Ingest(ctx, Request{
		SourceIdentity: identity,
		CallName:       req.CallName,
		Text:           text,
		Metadata:       req.Metadata,
	})
}

// FileRequest is an uploaded file. CallName defaults to the file name
// without its extension.
type FileRequest struct {
	FileName string
	Data     []byte
	CallName string
	Metadata map[string]string
}

// IngestFile validates the file extension, extracts text and ingests it
// under the file://<basename> identity. Unsupported formats are rejected
// before anything is read or stored.
func (p *Pipeline) IngestFile(ctx context.Context, req FileRequest) (Result, error) {
	base := filepath.Base(req.FileName)
	format, err := extract.FormatFromFileName(base)
	if err != nil {
		return Result{}, err
	}

	callName := req.CallName
	if strings.TrimSpace(callName) == "" {
		callName = fileStem(base)
	}

	text, err := extract.Text(format, req.Data)
	if err != nil {
		return Result{}, err
	}

	return p.Ingest(ctx, Request{
		SourceIdentity: registry.FileIdentity(base),
		CallName:       callName,
		Text:           text,
		FileName:       base,
		FileType:       string(format),
		Metadata:       req.Metadata,
	})
}

func fileStem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
