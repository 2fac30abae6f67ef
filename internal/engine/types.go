package engine

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Provider names accepted by Detect.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)
