package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/contextmore/internal/extract"
	"github.com/kalambet/contextmore/internal/ingest"
	"github.com/kalambet/contextmore/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Ingester    Ingester
	Searcher    Searcher
	DefaultTopK int
	Version     string
}

// NewMCPServer creates an MCP server exposing document embedding, upload
// and retrieval as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.DefaultTopK <= 0 {
		deps.DefaultTopK = defaultTopK
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"contextmore",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("contextmore embeds web pages and documents into a vector index and searches them by meaning."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("embed_document",
			mcp.WithDescription("Fetch a web page, split it into chunks and store their embeddings. Re-embedding a URL replaces its previous version."),
			mcp.WithString("url", mcp.Description("URL of the page to embed"), mcp.Required()),
			mcp.WithString("call_name", mcp.Description("Human-readable name for the document"), mcp.Required()),
			mcp.WithObject("headers", mcp.Description("Extra HTTP headers sent when fetching the URL")),
			mcp.WithString("username", mcp.Description("Basic auth user name for fetching the URL")),
			mcp.WithString("password", mcp.Description("Basic auth password for fetching the URL")),
			mcp.WithObject("metadata", mcp.Description("String key/value tags stored with every chunk")),
		),
		mcpEmbedDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("upload_document",
			mcp.WithDescription("Store a pdf, docx or txt file. Uploading a file with the same name replaces the previous version."),
			mcp.WithString("file_name", mcp.Description("File name including extension"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Base64-encoded file content"), mcp.Required()),
			mcp.WithString("call_name", mcp.Description("Human-readable name for the document; defaults to the file name without extension")),
			mcp.WithObject("metadata", mcp.Description("String key/value tags stored with every chunk")),
		),
		mcpUploadDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("retrieve_documents",
			mcp.WithDescription("Search stored documents by meaning. Optionally groups matching chunks per document."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Result size hint (default 5)")),
			mcp.WithBoolean("group_by_doc", mcp.Description("Group chunks by source document")),
			mcp.WithString("doc_id", mcp.Description("Restrict the search to one document")),
		),
		mcpRetrieveDocuments(deps),
	)

	return s
}

func mcpEmbedDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		callName, err := req.RequireString("call_name")
		if err != nil {
			return mcpError("call_name is required"), nil
		}
		args := req.GetArguments()

		urlReq := ingest.URLRequest{
			URL:      url,
			CallName: callName,
			Headers:  stringMap(args["headers"]),
			Metadata: stringMap(args["metadata"]),
		}
		if user := req.GetString("username", ""); user != "" {
			urlReq.BasicAuth = &extract.BasicAuth{Username: user, Password: req.GetString("password", "")}
		}

		res, err := deps.Ingester.IngestURL(ctx, urlReq)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(ingestResponse(res, url))
	}
}

func mcpUploadDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fileName, err := req.RequireString("file_name")
		if err != nil {
			return mcpError("file_name is required"), nil
		}
		if _, err := extract.FormatFromFileName(fileName); err != nil {
			return mcpFailure(err), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return mcpError("invalid base64 content"), nil
		}

		res, err := deps.Ingester.IngestFile(ctx, ingest.FileRequest{
			FileName: fileName,
			Data:     data,
			CallName: req.GetString("call_name", ""),
			Metadata: stringMap(req.GetArguments()["metadata"]),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(ingestResponse(res, res.FileName))
	}
}

func mcpRetrieveDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		topK := req.GetInt("top_k", deps.DefaultTopK)
		if topK <= 0 {
			topK = deps.DefaultTopK
		}
		if topK > retrieval.MaxTopK {
			topK = retrieval.MaxTopK
		}
		grouped := req.GetBool("group_by_doc", false)

		res, err := deps.Searcher.Search(ctx, retrieval.Query{
			Text:       query,
			TopK:       topK,
			GroupByDoc: grouped,
			DocID:      req.GetString("doc_id", ""),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(resultsPayload(res, grouped))
	}
}

// stringMap converts a JSON object argument into string metadata. Non-string
// values are formatted; anything that is not an object yields nil.
func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(val)
	}
	return out
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpFailure(err error) *mcp.CallToolResult {
	_, errType := classify(err)
	return mcpError(fmt.Sprintf("%s: %v", errType, err))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
