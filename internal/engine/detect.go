package engine

import "fmt"

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	OllamaBaseURL string
	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// Detect returns the embedding backend named by cfg.Provider. An empty
// provider selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderOpenAI:
		return NewOpenAIEngine(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
