package ai

import (
	"fmt"

	"github.com/kiranshivaraju/codeagent/internal/config"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// NewProvider constructs the completion provider selected by config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.Completer, error) {
	switch cfg.Provider {
	case "groq":
		return NewOpenAICompatProvider("groq", cfg.Groq, cfg.Temperature, cfg.MaxTokens), nil
	case "openai":
		return NewOpenAICompatProvider("openai", cfg.OpenAI, cfg.Temperature, cfg.MaxTokens), nil
	case "ollama":
		return NewOpenAICompatProvider("ollama", cfg.Ollama, cfg.Temperature, cfg.MaxTokens), nil
	case "vllm":
		return NewOpenAICompatProvider("vllm", cfg.VLLM, cfg.Temperature, cfg.MaxTokens), nil
	case "mock":
		return NewDemoProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of groq, openai, ollama, vllm, mock", cfg.Provider)
	}
}
