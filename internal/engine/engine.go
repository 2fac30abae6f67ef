package engine

import "context"

// Engine abstracts a native embedding backend (Ollama or any OpenAI-compatible
// server). The embedding adapter depends on this interface instead of a
// concrete client.
type Engine interface {
	// Embed returns one native vector per input text, in input order.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by engines that manage local model files.
type ModelManager interface {
	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
