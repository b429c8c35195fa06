package ai

import (
	"context"
)

// Prompt is one completion request in provider-neutral form.
type Prompt struct {
	System      string
	User        string
	JSON        bool // ask the provider for a JSON-only answer
	Temperature float32
	MaxTokens   int
}

// Completer is the interface every AI provider implements
// (Gemini, Ollama, OpenAI-compatible, or a fallback chain of them).
type Completer interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
	ProviderAuto   ProviderType = "auto"
)
