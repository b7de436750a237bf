package openai

import (
	"fmt"
	"log"

	"github.com/fluidmcp/gateway/internal/llm"
)

// Config holds the per-model configuration used to reach one
// OpenAI-compatible backend (vLLM, Ollama, LM Studio, or a generic
// http_openai endpoint). One Config is built per model.LLMModel at
// dispatch time, after its ${ENV_VAR} api_key placeholder has been
// resolved.
type Config struct {
	APIKey       string   // resolved API key, empty if the backend needs none
	BaseURL      string   // base URL, e.g. http://localhost:8000/v1
	Model        string   // model name sent in the request body
	Temperature  *float32 // nil = API default
	MaxTokens    int      // 0 = no limit
	MaxRetries   int      // extra attempts after any failed request
	HTTPTimeout  int      // HTTP client timeout in seconds
	ThinkingMode string   // "auto", "native", or "app"
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.Temperature != nil && (*c.Temperature < 0.0 || *c.Temperature > 2.0) {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", *c.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}
	return nil
}

// ResolveThinkingMode returns the effective thinking mode.
// When set to "auto" or empty, it detects based on the model name.
func (c *Config) ResolveThinkingMode() string {
	if c.ThinkingMode == "native" || c.ThinkingMode == "app" {
		return c.ThinkingMode
	}
	cap := llm.DetectThinkingCapability(c.Model)
	if cap.SupportsNativeThinking {
		log.Printf("[Backend] auto-detected native thinking for model %q", c.Model)
		return "native"
	}
	return "app"
}
