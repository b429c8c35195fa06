package ai

import (
	"fmt"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType

	GeminiAPIKey string
	GeminiModel  string

	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"

	OpenAIAPIKey  string
	OpenAIBaseURL string // any OpenAI-compatible endpoint
	OpenAIModel   string
}

// NewCompleter creates a Completer based on the config. "auto" chains
// every provider that has credentials, hosted ones first, with Ollama as
// the last resort.
func NewCompleter(cfg Config) (Completer, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiCompleter(cfg.GeminiAPIKey, cfg.GeminiModel), nil

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil

	case ProviderOllama:
		return NewOllamaCompleter(cfg.OllamaBaseURL, cfg.OllamaModel), nil

	case ProviderAuto, "":
		var chain []Completer
		if cfg.OpenAIAPIKey != "" {
			chain = append(chain, NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
		}
		if cfg.GeminiAPIKey != "" {
			chain = append(chain, NewGeminiCompleter(cfg.GeminiAPIKey, cfg.GeminiModel))
		}
		chain = append(chain, NewOllamaCompleter(cfg.OllamaBaseURL, cfg.OllamaModel))
		if len(chain) == 1 {
			return chain[0], nil
		}
		return NewFallbackCompleter(chain...), nil

	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
