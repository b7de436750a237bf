// Package router drives the function-calling loop: it lets a backend call
// tools, feeds results back into the conversation, and enforces the
// security rule that tool_choice="none" is honored even if a model ignores
// it.
package router

import (
	"context"
	"log"

	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/toolexec"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

// ToolChoice mirrors the OpenAI tool_choice request values.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Backend is the minimal surface the Router needs from an LLM backend; it is
// satisfied by llm.LLMProvider.
type Backend interface {
	CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error)
	CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error)
}

// Config bounds how many tool-calling iterations the Router allows before
// giving up and returning the last response.
type Config struct {
	MaxIterations int
}

// DefaultConfig allows five iterations, enough for a call-inspect-answer
// exchange with one retry to spare.
func DefaultConfig() Config {
	return Config{MaxIterations: 5}
}

// Router drives the tool-calling conversation loop for one model.
type Router struct {
	registry *toolregistry.Registry
	executor *toolexec.Executor
	cfg      Config
}

// New creates a Router backed by registry and executor.
func New(registry *toolregistry.Registry, executor *toolexec.Executor, cfg Config) *Router {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	return &Router{registry: registry, executor: executor, cfg: cfg}
}

// HandleCompletion runs the full tool-calling loop against backend, starting
// from messages. tools, when nil, defaults to every tool in the registry.
// tool_choice="none" (or an empty tool registry) short-circuits to a single
// non-tool-calling completion.
func (r *Router) HandleCompletion(ctx context.Context, backend Backend, messages []llm.Message, tools []llm.ToolDefinition, choice ToolChoice) (llm.Message, error) {
	if tools == nil && choice != ToolChoiceNone {
		tools = r.registry.ListToolSchemas()
	}

	if len(tools) == 0 || choice == ToolChoiceNone {
		log.Printf("[router] no tools available or tool_choice=none, doing plain completion")
		return backend.CallLLM(ctx, messages)
	}

	current := append([]llm.Message(nil), messages...)
	var response llm.Message
	iteration := 0

	for iteration < r.cfg.MaxIterations {
		iteration++
		log.Printf("[router] function calling iteration %d/%d", iteration, r.cfg.MaxIterations)

		resp, err := backend.CallLLMWithTools(ctx, current, tools)
		if err != nil {
			return llm.Message{}, err
		}
		response = resp

		if len(response.ToolCalls) == 0 {
			log.Printf("[router] no tool calls in response, returning final answer")
			return response, nil
		}

		// SECURITY: tool_choice="none" is enforced here, not just at entry --
		// a model that ignores the earlier instruction and still emits
		// tool_calls must not have them executed.
		if choice == ToolChoiceNone {
			log.Printf("[router] model returned %d tool calls despite tool_choice=none, refusing to execute", len(response.ToolCalls))
			return response, nil
		}

		log.Printf("[router] model requested %d tool calls", len(response.ToolCalls))
		current = append(current, response)

		results := r.executor.ExecuteCalls(ctx, response.ToolCalls, iteration-1)
		current = append(current, results...)

		// The model should use the tool results just appended to produce a
		// final answer; if it disobeys, the check above catches it next loop.
		choice = ToolChoiceNone
	}

	log.Printf("[router] max iterations (%d) reached, returning last response", r.cfg.MaxIterations)
	return response, nil
}
