// Package api exposes ingestion and retrieval over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/contextmore/internal/extract"
	"github.com/kalambet/contextmore/internal/ingest"
	"github.com/kalambet/contextmore/internal/retrieval"
)

const (
	maxJSONBodySize   = 1 << 20  // 1MB
	maxUploadBodySize = 50 << 20 // 50MB
	defaultTopK       = 5
)

// Ingester stores documents fetched from URLs or uploaded as files.
type Ingester interface {
	IngestURL(ctx context.Context, req ingest.URLRequest) (ingest.Result, error)
	IngestFile(ctx context.Context, req ingest.FileRequest) (ingest.Result, error)
}

// Searcher answers similarity queries.
type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) (retrieval.Results, error)
}

// Deleter removes a document and its chunks.
type Deleter interface {
	Delete(ctx context.Context, docID string) error
}

// Deps holds the services behind the API.
type Deps struct {
	Ingester Ingester
	Searcher Searcher
	Deleter  Deleter
	// DefaultTopK applies when a retrieve request omits top_k.
	DefaultTopK int
	// MCP, when set, is served as streamable HTTP at /mcp.
	MCP    *server.MCPServer
	Logger *slog.Logger
}

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	URL         string             `json:"url"`
	CallName    string             `json:"call_name"`
	AuthHeaders *AuthHeaders       `json:"auth_headers,omitempty"`
	BasicAuth   *extract.BasicAuth `json:"basic_auth,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// AuthHeaders carries extra headers sent when fetching the URL.
type AuthHeaders struct {
	Headers map[string]string `json:"headers"`
}

// RetrieveRequest is the body of POST /retrieve.
type RetrieveRequest struct {
	Query      string `json:"query"`
	TopK       *int   `json:"top_k,omitempty"`
	GroupByDoc bool   `json:"group_by_doc"`
	DocID      string `json:"doc_id,omitempty"`
}

// IngestResponse is returned by both ingestion endpoints.
type IngestResponse struct {
	Message    string `json:"message"`
	DocID      string `json:"doc_id"`
	CallName   string `json:"call_name"`
	Date       string `json:"date"`
	IsUpdate   bool   `json:"is_update"`
	ChunkCount int    `json:"chunk_count"`
	FileName   string `json:"file_name,omitempty"`
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultTopK <= 0 {
		deps.DefaultTopK = defaultTopK
	}
	deps.Logger = deps.Logger.With("component", "api")

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Post("/embed", handleEmbed(deps))
	r.Post("/upload-document", handleUpload(deps))
	r.Post("/retrieve", handleRetrieve(deps))
	r.Delete("/documents/{doc_id}", handleDelete(deps))
	if deps.MCP != nil {
		r.Handle("/mcp", server.NewStreamableHTTPServer(deps.MCP))
	}
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleEmbed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var req EmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		urlReq := ingest.URLRequest{
			URL:       req.URL,
			CallName:  req.CallName,
			BasicAuth: req.BasicAuth,
			Metadata:  req.Metadata,
		}
		if req.AuthHeaders != nil {
			urlReq.Headers = req.AuthHeaders.Headers
		}

		res, err := deps.Ingester.IngestURL(r.Context(), urlReq)
		if err != nil {
			deps.Logger.Warn("embed failed", "url", req.URL, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ingestResponse(res, req.URL))
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		// Reject unsupported files before reading them.
		if _, err := extract.FormatFromFileName(header.Filename); err != nil {
			writeError(w, err)
			return
		}
		callName := r.FormValue("call_name")
		if strings.TrimSpace(callName) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "call_name is required")
			return
		}
		metadata, err := ingest.ParseTags(r.MultipartForm.Value["tag"])
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file: %v", err)
			return
		}

		res, err := deps.Ingester.IngestFile(r.Context(), ingest.FileRequest{
			FileName: header.Filename,
			Data:     data,
			CallName: callName,
			Metadata: metadata,
		})
		if err != nil {
			deps.Logger.Warn("upload failed", "file", header.Filename, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ingestResponse(res, res.FileName))
	}
}

func handleRetrieve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var req RetrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		topK := deps.DefaultTopK
		if req.TopK != nil {
			topK = min(*req.TopK, retrieval.MaxTopK)
		}

		res, err := deps.Searcher.Search(r.Context(), retrieval.Query{
			Text:       req.Query,
			TopK:       topK,
			GroupByDoc: req.GroupByDoc,
			DocID:      req.DocID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": resultsPayload(res, req.GroupByDoc)})
	}
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "doc_id")
		if err := deps.Deleter.Delete(r.Context(), docID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "doc_id": docID})
	}
}

func ingestResponse(res ingest.Result, source string) IngestResponse {
	verb := "embedded"
	if res.IsUpdate {
		verb = "updated"
	}
	return IngestResponse{
		Message:    fmt.Sprintf("Successfully %s %d chunks from %s", verb, res.ChunkCount, source),
		DocID:      res.DocID,
		CallName:   res.CallName,
		Date:       res.Date.Format(time.RFC3339Nano),
		IsUpdate:   res.IsUpdate,
		ChunkCount: res.ChunkCount,
		FileName:   res.FileName,
	}
}

// resultsPayload keeps "results" a JSON array even when nothing matched.
func resultsPayload(res retrieval.Results, grouped bool) any {
	if grouped {
		if res.Documents == nil {
			return []retrieval.DocumentHit{}
		}
		return res.Documents
	}
	if res.Hits == nil {
		return []retrieval.Hit{}
	}
	return res.Hits
}
