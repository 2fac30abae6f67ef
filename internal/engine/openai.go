package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var _ Engine = (*OpenAIEngine)(nil)

// OpenAIEngine embeds through any OpenAI-compatible /v1/embeddings endpoint
// using langchaingo. One langchaingo embedder is built lazily per model.
type OpenAIEngine struct {
	baseURL string
	token   string
	logger  *slog.Logger

	mu        sync.Mutex
	embedders map[string]embeddings.Embedder
}

// NewOpenAIEngine creates an OpenAIEngine. An empty token is replaced with
// "none" so local servers that skip authentication still accept requests.
func NewOpenAIEngine(baseURL, token string) *OpenAIEngine {
	if token == "" {
		token = "none"
	}
	return &OpenAIEngine{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		logger:    slog.Default().With("component", "openai-engine"),
		embedders: make(map[string]embeddings.Embedder),
	}
}

func (e *OpenAIEngine) embedder(model string) (embeddings.Embedder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if emb, ok := e.embedders[model]; ok {
		return emb, nil
	}

	opts := []openai.Option{
		openai.WithToken(e.token),
		openai.WithEmbeddingModel(model),
	}
	if e.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(e.baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	e.embedders[model] = emb
	return emb, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	emb, err := e.embedder(model)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("generating embeddings", "model", model, "count", len(texts))
	vecs, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// IsRunning probes GET {baseURL}/models.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	if e.baseURL == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
