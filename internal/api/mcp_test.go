package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/contextmore/internal/ingest"
	"github.com/kalambet/contextmore/internal/retrieval"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(MCPDeps{Ingester: &mockIngester{}, Searcher: &mockSearcher{}})
	tools := s.ListTools()
	for _, name := range []string{"embed_document", "upload_document", "retrieve_documents"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestMCPTool_EmbedDocument(t *testing.T) {
	ing := &mockIngester{res: ingest.Result{DocID: "doc-1", CallName: "Docs", ChunkCount: 2}}
	handler := mcpEmbedDocument(MCPDeps{Ingester: ing})

	result, err := handler(context.Background(), makeCallToolRequest("embed_document", map[string]interface{}{
		"url":       "https://example.com",
		"call_name": "Docs",
		"headers":   map[string]interface{}{"X-Token": "abc"},
		"metadata":  map[string]interface{}{"team": "search", "rank": 3},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp IngestResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if resp.DocID != "doc-1" || resp.ChunkCount != 2 {
		t.Errorf("response = %+v", resp)
	}
	if ing.urlReq.Headers["X-Token"] != "abc" {
		t.Errorf("headers = %+v", ing.urlReq.Headers)
	}
	if ing.urlReq.Metadata["team"] != "search" || ing.urlReq.Metadata["rank"] != "3" {
		t.Errorf("metadata = %+v", ing.urlReq.Metadata)
	}
	if ing.urlReq.BasicAuth != nil {
		t.Errorf("basic auth = %+v, want none", ing.urlReq.BasicAuth)
	}
}

func TestMCPTool_EmbedDocumentBasicAuth(t *testing.T) {
	ing := &mockIngester{res: ingest.Result{DocID: "doc-1"}}
	handler := mcpEmbedDocument(MCPDeps{Ingester: ing})

	result, err := handler(context.Background(), makeCallToolRequest("embed_document", map[string]interface{}{
		"url":       "https://intranet.example.com/page",
		"call_name": "Intranet",
		"username":  "alice",
		"password":  "s3cret",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if ing.urlReq.BasicAuth == nil {
		t.Fatal("basic auth not passed to the fetcher")
	}
	if ing.urlReq.BasicAuth.Username != "alice" || ing.urlReq.BasicAuth.Password != "s3cret" {
		t.Errorf("basic auth = %+v", ing.urlReq.BasicAuth)
	}
}

func TestMCPTool_EmbedDocumentMissingArgs(t *testing.T) {
	ing := &mockIngester{}
	handler := mcpEmbedDocument(MCPDeps{Ingester: ing})

	result, err := handler(context.Background(), makeCallToolRequest("embed_document", map[string]interface{}{
		"url": "https://example.com",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing call_name")
	}
	if ing.calls != 0 {
		t.Error("ingester called without call_name")
	}
}

func TestMCPTool_UploadDocument(t *testing.T) {
	ing := &mockIngester{res: ingest.Result{DocID: "doc-2", FileName: "a.txt"}}
	handler := mcpUploadDocument(MCPDeps{Ingester: ing})

	result, err := handler(context.Background(), makeCallToolRequest("upload_document", map[string]interface{}{
		"file_name": "a.txt",
		"content":   base64.StdEncoding.EncodeToString([]byte("file body")),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if string(ing.fileReq.Data) != "file body" || ing.fileReq.FileName != "a.txt" {
		t.Errorf("file request = %+v", ing.fileReq)
	}
}

func TestMCPTool_UploadDocumentRejects(t *testing.T) {
	ing := &mockIngester{}
	handler := mcpUploadDocument(MCPDeps{Ingester: ing})

	result, _ := handler(context.Background(), makeCallToolRequest("upload_document", map[string]interface{}{
		"file_name": "a.exe",
		"content":   "eA==",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "unsupported_format") {
		t.Errorf("expected unsupported_format error, got %q", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("upload_document", map[string]interface{}{
		"file_name": "a.txt",
		"content":   "!!not base64!!",
	}))
	if !result.IsError {
		t.Error("expected error for invalid base64")
	}
	if ing.calls != 0 {
		t.Errorf("ingester called %d times", ing.calls)
	}
}

func TestMCPTool_RetrieveDocuments(t *testing.T) {
	s := &mockSearcher{res: retrieval.Results{Documents: []retrieval.DocumentHit{{DocID: "d", AvgScore: 0.5}}}}
	handler := mcpRetrieveDocuments(MCPDeps{Searcher: s, DefaultTopK: 5})

	result, err := handler(context.Background(), makeCallToolRequest("retrieve_documents", map[string]interface{}{
		"query":        "hello",
		"top_k":        float64(500),
		"group_by_doc": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if s.query.TopK != retrieval.MaxTopK || !s.query.GroupByDoc {
		t.Errorf("query = %+v", s.query)
	}

	var docs []retrieval.DocumentHit
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(docs) != 1 || docs[0].DocID != "d" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestMCPTool_RetrieveDocumentsDefaultTopK(t *testing.T) {
	s := &mockSearcher{}
	handler := mcpRetrieveDocuments(MCPDeps{Searcher: s, DefaultTopK: 7})

	result, _ := handler(context.Background(), makeCallToolRequest("retrieve_documents", map[string]interface{}{
		"query": "hello",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if s.query.TopK != 7 {
		t.Errorf("top_k = %d, want 7", s.query.TopK)
	}
	if toolText(t, result) != "[]" {
		t.Errorf("result = %q, want []", toolText(t, result))
	}
}
