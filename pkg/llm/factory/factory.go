package factory

import (
	"fmt"
	"time"

	"campus-qa-be/pkg/llm"
	"campus-qa-be/pkg/llm/huggingface"
	"campus-qa-be/pkg/llm/ollama"
)

type Config struct {
	Provider string // ollama | huggingface
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

func NewLLMProvider(cfg Config) (llm.LLMProvider, error) {
	switch cfg.Provider {
	case "ollama", "":
		return ollama.NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case "huggingface", "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider %s needs an api key or a base url", cfg.Provider)
		}
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
