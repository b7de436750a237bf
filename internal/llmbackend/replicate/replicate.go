// Package replicate implements llm.LLMProvider against the Replicate
// prediction API, talking to the REST endpoints directly with net/http:
// the API is a prediction create plus a poll loop, small enough that no
// client library earns its keep.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/model"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// Client implements llm.LLMProvider by creating a Replicate prediction,
// polling it to completion, and flattening the output into assistant text.
// Replicate has no native chat/tool-calling wire format, so
// CallLLMWithTools collapses to CallLLM and never returns tool calls.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	version    string // Replicate model version id
	pollEvery  time.Duration
}

// New builds a replicate.Client for m, using resolvedAPIToken (the
// ${REPLICATE_API_TOKEN}-style placeholder already expanded by the caller).
func New(m model.LLMModel, resolvedAPIToken string) (*Client, error) {
	if resolvedAPIToken == "" {
		return nil, fmt.Errorf("replicate: missing api token for model %q", m.ModelID)
	}
	baseURL := m.Endpoints.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(m.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiToken:   resolvedAPIToken,
		version:    m.ModelID,
		pollEvery:  500 * time.Millisecond,
	}, nil
}

type predictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type predictionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// CallLLM flattens messages into a single prompt, submits a prediction, and
// polls until it reaches a terminal state.
func (c *Client) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	prompt := flattenPrompt(messages)
	pred, err := c.createPrediction(ctx, prompt)
	if err != nil {
		return llm.Message{}, err
	}
	pred, err = c.awaitCompletion(ctx, pred)
	if err != nil {
		return llm.Message{}, err
	}
	if pred.Status == "failed" || pred.Status == "canceled" {
		return llm.Message{}, fmt.Errorf("replicate: prediction %s: %s", pred.Status, pred.Error)
	}
	return llm.Message{Role: llm.RoleAssistant, Content: flattenOutput(pred.Output)}, nil
}

// CallLLMStream has no Replicate-native streaming path in this client;
// SSE event subscription is left for a future iteration. It falls back to
// CallLLM and delivers the full text as one chunk.
func (c *Client) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	msg, err := c.CallLLM(ctx, messages)
	if err != nil {
		return llm.Message{}, err
	}
	if onChunk != nil && msg.Content != "" {
		onChunk(msg.Content)
	}
	return msg, nil
}

// CallLLMWithTools collapses to CallLLM: Replicate has no function-calling
// wire format, so tool definitions are ignored and no tool_calls are ever
// returned. IsToolCallingEnabled reporting false keeps the dispatcher from
// routing tool-enabled requests through the function-calling loop at all.
func (c *Client) CallLLMWithTools(ctx context.Context, messages []llm.Message, _ []llm.ToolDefinition) (llm.Message, error) {
	return c.CallLLM(ctx, messages)
}

// IsToolCallingEnabled is always false for Replicate.
func (c *Client) IsToolCallingEnabled() bool { return false }

// GetName returns the provider name.
func (c *Client) GetName() string { return fmt.Sprintf("replicate (%s)", c.version) }

func (c *Client) createPrediction(ctx context.Context, prompt string) (predictionResponse, error) {
	body, err := json.Marshal(predictionRequest{
		Version: c.version,
		Input:   map[string]any{"prompt": prompt},
	})
	if err != nil {
		return predictionResponse{}, fmt.Errorf("replicate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return predictionResponse{}, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiToken)

	return c.doAndDecode(req)
}

func (c *Client) awaitCompletion(ctx context.Context, pred predictionResponse) (predictionResponse, error) {
	for pred.Status == "starting" || pred.Status == "processing" {
		select {
		case <-ctx.Done():
			return predictionResponse{}, ctx.Err()
		case <-time.After(c.pollEvery):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pred.URLs.Get, nil)
		if err != nil {
			return predictionResponse{}, fmt.Errorf("replicate: build poll request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.apiToken)

		pred, err = c.doAndDecode(req)
		if err != nil {
			return predictionResponse{}, err
		}
	}
	return pred, nil
}

func (c *Client) doAndDecode(req *http.Request) (predictionResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return predictionResponse{}, fmt.Errorf("replicate: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return predictionResponse{}, fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return predictionResponse{}, fmt.Errorf("replicate: http %d: %s", resp.StatusCode, string(data))
	}

	var pred predictionResponse
	if err := json.Unmarshal(data, &pred); err != nil {
		return predictionResponse{}, fmt.Errorf("replicate: decode response: %w", err)
	}
	return pred, nil
}

func flattenPrompt(messages []llm.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func flattenOutput(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asSlice []string
	if err := json.Unmarshal(raw, &asSlice); err == nil {
		return strings.Join(asSlice, "")
	}
	return string(raw)
}
