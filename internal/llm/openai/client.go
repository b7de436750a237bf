// Package openai implements llm.LLMProvider over the OpenAI-compatible
// chat-completions protocol. One Client is built per registered model at
// dispatch time, pointed at whatever base URL that model's registration
// names -- vLLM, Ollama, LM Studio, and hosted OpenAI-compatible endpoints
// all speak this wire format.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fluidmcp/gateway/internal/llm"
	openailib "github.com/sashabaranov/go-openai"
)

// Client implements llm.LLMProvider for one model at one endpoint.
type Client struct {
	client *openailib.Client
	config *Config
}

// NewClient validates config and builds a Client with a bounded HTTP
// client, so a wedged backend can never hang a dispatch forever.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// The generous default absorbs slow reasoning models; per-model
	// registrations override it through Config.HTTPTimeout.
	timeout := config.HTTPTimeout
	if timeout <= 0 {
		timeout = 300
	}
	clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// toWireMessages converts gateway messages to the OpenAI wire shape. Tool
// result messages carry their tool_call_id/name, and assistant messages
// that invoked tools carry the tool_calls the backend needs to correlate
// the results it is about to see.
func toWireMessages(messages []llm.Message) []openailib.ChatCompletionMessage {
	wire := make([]openailib.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		wire[i] = openailib.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool && msg.ToolCallID != "" {
			wire[i].ToolCallID = msg.ToolCallID
			wire[i].Name = msg.Name
		}
		if msg.Role == llm.RoleAssistant && len(msg.ToolCalls) > 0 {
			calls := make([]openailib.ToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				calls[j] = openailib.ToolCall{
					ID:   tc.ID,
					Type: openailib.ToolTypeFunction,
					Function: openailib.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			wire[i].ToolCalls = calls
		}
	}
	return wire
}

// newRequest assembles a chat-completions request with the model's default
// params applied and native thinking enabled when the model supports it.
func (c *Client) newRequest(messages []llm.Message, stream bool) openailib.ChatCompletionRequest {
	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: toWireMessages(messages),
		Stream:   stream,
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.ResolveThinkingMode() == "native" {
		req.ReasoningEffort = "medium"
	}
	return req
}

// complete runs req with up to MaxRetries linear-backoff retries, the
// shared request path for both the plain and tool-calling calls.
func (c *Client) complete(ctx context.Context, label string, req openailib.ChatCompletionRequest) (openailib.ChatCompletionResponse, error) {
	var resp openailib.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, lastErr = c.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			return resp, nil
		}
		if attempt < c.config.MaxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[Backend] %s retry %d/%d after %v: %v", label, attempt+1, c.config.MaxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return resp, ctx.Err()
			}
		}
	}
	return resp, fmt.Errorf("%s failed after %d retries: %w", label, c.config.MaxRetries, lastErr)
}

// CallLLM sends messages and returns the complete response.
func (c *Client) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	resp, err := c.complete(ctx, "chat", c.newRequest(messages, false))
	if err != nil {
		return llm.Message{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, fmt.Errorf("no choices returned from backend")
	}
	return fromWireChoice(resp.Choices[0].Message), nil
}

// CallLLMStream sends messages and streams the response token-by-token,
// invoking onChunk for each content delta. It returns the full assembled
// message once the stream ends. With no callback, or if the stream cannot
// be opened, it degrades to the synchronous path.
func (c *Client) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	if onChunk == nil {
		return c.CallLLM(ctx, messages)
	}
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.newRequest(messages, true))
	if err != nil {
		log.Printf("[Backend] stream open failed, degrading to sync: %v", err)
		return c.CallLLM(ctx, messages)
	}
	defer stream.Close()

	var content, reasoning strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if content.Len() > 0 {
				// A partial answer beats none; the caller already saw these
				// bytes through onChunk.
				log.Printf("[Backend] stream interrupted after %d chars: %v", content.Len(), err)
				break
			}
			return llm.Message{}, fmt.Errorf("stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			onChunk(delta.Content)
		}
	}

	return llm.Message{
		Role:             llm.RoleAssistant,
		Content:          content.String(),
		ReasoningContent: reasoning.String(),
	}, nil
}

// CallLLMWithTools sends messages with tool definitions for function
// calling. Always non-streaming: the caller must see the complete response
// to inspect tool_calls before anything else happens.
func (c *Client) CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	req := c.newRequest(messages, false)
	req.Tools = make([]openailib.Tool, len(tools))
	for i, t := range tools {
		req.Tools[i] = openailib.Tool{
			Type: openailib.ToolTypeFunction,
			Function: &openailib.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}

	resp, err := c.complete(ctx, "tool chat", req)
	if err != nil {
		return llm.Message{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, fmt.Errorf("no choices returned from backend")
	}

	result := fromWireChoice(resp.Choices[0].Message)
	if n := len(result.ToolCalls); n > 0 {
		names := make([]string, n)
		for i, tc := range result.ToolCalls {
			names[i] = tc.Name
		}
		log.Printf("[Backend] model requested %d tool call(s): %s", n, strings.Join(names, ", "))
	}
	return result, nil
}

// fromWireChoice converts a response message back to the gateway shape,
// carrying content, native-thinking output, and any tool_calls.
func fromWireChoice(choice openailib.ChatCompletionMessage) llm.Message {
	msg := llm.Message{
		Role:             llm.RoleAssistant,
		Content:          choice.Content,
		ReasoningContent: choice.ReasoningContent,
	}
	if len(choice.ToolCalls) > 0 {
		msg.ToolCalls = make([]llm.ToolCall, len(choice.ToolCalls))
		for i, tc := range choice.ToolCalls {
			msg.ToolCalls[i] = llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			}
		}
	}
	return msg
}

// IsToolCallingEnabled reports whether this client can drive the
// function-calling loop. Every OpenAI-compatible endpoint accepts the
// tools field, so this is always true; whether tools are actually offered
// is a per-request decision made upstream.
func (c *Client) IsToolCallingEnabled() bool {
	return true
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}
