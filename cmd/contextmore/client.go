package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/contextmore/internal/api"
	"github.com/kalambet/contextmore/internal/config"
	"github.com/kalambet/contextmore/internal/ingest"
)

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	base := serverURL
	if base == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		base = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		// Large documents take a while to embed.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *apiClient) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is contextmore running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// upload posts a file to /upload-document as multipart form data.
func (c *apiClient) upload(ctx context.Context, fileName string, data []byte, callName string, metadata map[string]string) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.WriteField("call_name", callName); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField("tag", k+"="+metadata[k]); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-document", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req)
}

// IngestFile uploads one file to the server, so folder ingestion and watch
// mode can drive a running server.
func (c *apiClient) IngestFile(ctx context.Context, req ingest.FileRequest) (ingest.Result, error) {
	resp, err := c.upload(ctx, req.FileName, req.Data, req.CallName, req.Metadata)
	if err != nil {
		return ingest.Result{}, err
	}
	var out api.IngestResponse
	if err := decodeJSON(resp, &out); err != nil {
		return ingest.Result{}, err
	}
	return resultFromResponse(out), nil
}

func resultFromResponse(r api.IngestResponse) ingest.Result {
	date, _ := time.Parse(time.RFC3339Nano, r.Date)
	return ingest.Result{
		DocID:      r.DocID,
		CallName:   r.CallName,
		FileName:   r.FileName,
		Date:       date,
		IsUpdate:   r.IsUpdate,
		ChunkCount: r.ChunkCount,
	}
}

// apiError is the server's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		DocID   string `json:"doc_id"`
	} `json:"error"`
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			msg := fmt.Sprintf("server returned %d %s: %s", resp.StatusCode, e.Error.Type, e.Error.Message)
			if e.Error.DocID != "" {
				msg += " (doc_id " + e.Error.DocID + ")"
			}
			return errors.New(msg)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
