package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaCompleter talks to a local Ollama server through /api/generate.
type OllamaCompleter struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaCompleter(baseURL, model string) *OllamaCompleter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaCompleter{baseURL: baseURL, model: model, client: &http.Client{}}
}

func (o *OllamaCompleter) Name() string { return "ollama" }

func (o *OllamaCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	options := map[string]interface{}{
		"temperature": p.Temperature,
	}
	if p.MaxTokens > 0 {
		options["num_predict"] = p.MaxTokens
	}
	payload := map[string]interface{}{
		"model":   o.model,
		"system":  p.System,
		"prompt":  p.User,
		"stream":  false,
		"options": options,
	}
	if p.JSON {
		payload["format"] = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Response, nil
}
