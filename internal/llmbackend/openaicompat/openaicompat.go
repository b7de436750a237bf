// Package openaicompat adapts a registered model.LLMModel of type
// vllm/ollama/http_openai into an llm.LLMProvider backed by the
// internal/llm/openai client. All three model types speak the same
// OpenAI-compatible wire protocol; only the base URL and default params
// differ.
package openaicompat

import (
	"fmt"

	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/llm/openai"
	"github.com/fluidmcp/gateway/internal/model"
)

// New builds an llm.LLMProvider for m, using resolvedAPIKey (the ${ENV_VAR}
// placeholder in m.APIKey already expanded by the caller).
func New(m model.LLMModel, resolvedAPIKey string) (llm.LLMProvider, error) {
	cfg := &openai.Config{
		APIKey:      resolvedAPIKey,
		BaseURL:     m.Endpoints.BaseURL,
		Model:       m.ModelID,
		MaxRetries:  3,
		HTTPTimeout: m.TimeoutSec,
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 300
	}
	if temp, ok := m.DefaultParams["temperature"].(float64); ok {
		f := float32(temp)
		cfg.Temperature = &f
	}
	if maxTokens, ok := m.DefaultParams["max_tokens"].(float64); ok {
		cfg.MaxTokens = int(maxTokens)
	}
	if mode, ok := m.DefaultParams["thinking_mode"].(string); ok {
		cfg.ThinkingMode = mode
	}

	client, err := openai.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build client for %q: %w", m.ModelID, err)
	}
	return client, nil
}
