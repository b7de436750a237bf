// Package toolexec is the safety layer between a model's requested
// tool_calls and the tool registry: allowlist check, timeout enforcement,
// call-depth limiting, parallel execution, and normalized tool-role
// response shaping.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

// Config carries the per-model execution safety settings.
type Config struct {
	// AllowedTools restricts execution to this set. Empty means "allow every
	// registered tool".
	AllowedTools   []string
	TimeoutPerTool time.Duration
	MaxCallDepth   int
}

// DefaultConfig bounds each call at 10s and each turn at depth 3.
func DefaultConfig() Config {
	return Config{
		TimeoutPerTool: 10 * time.Second,
		MaxCallDepth:   3,
	}
}

// Executor runs model-requested tool calls against a Registry under the
// configured safety controls.
type Executor struct {
	registry *toolregistry.Registry
	modelID  string
	cfg      Config
	allowed  map[string]bool
}

// New creates an Executor for modelID backed by registry.
func New(registry *toolregistry.Registry, modelID string, cfg Config) *Executor {
	var allowed map[string]bool
	if len(cfg.AllowedTools) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedTools))
		for _, name := range cfg.AllowedTools {
			allowed[name] = true
		}
	}
	return &Executor{registry: registry, modelID: modelID, cfg: cfg, allowed: allowed}
}

func (e *Executor) isAllowed(name string) bool {
	if e.allowed == nil {
		return true
	}
	return e.allowed[name]
}

// ExecuteCall runs a single tool call at the given recursion depth, never
// returning a Go error -- every failure mode is normalized into the tool
// message's content per the wire contract the Router expects.
func (e *Executor) ExecuteCall(ctx context.Context, call llm.ToolCall, depth int) llm.Message {
	if depth >= e.cfg.MaxCallDepth {
		log.Printf("[toolexec] call depth limit exceeded: %d >= %d", depth, e.cfg.MaxCallDepth)
		return errorMessage(call, "maximum call depth exceeded")
	}

	if !e.isAllowed(call.Name) {
		log.Printf("[toolexec] tool %q not in allowlist", call.Name)
		return errorMessage(call, fmt.Sprintf("tool %q is not allowed", call.Name))
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		log.Printf("[toolexec] tool %q not found in registry", call.Name)
		return errorMessage(call, fmt.Sprintf("tool %q not found", call.Name))
	}

	timeout := e.cfg.TimeoutPerTool
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result toolregistry.ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := tool.Execute(callCtx, call.Arguments)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			log.Printf("[toolexec] tool %q execution failed: %v", call.Name, o.err)
			return errorMessage(call, fmt.Sprintf("tool execution error: %v", o.err))
		}
		if o.result.Error != "" {
			return errorMessage(call, o.result.Error)
		}
		return successMessage(call, o.result.Output)
	case <-callCtx.Done():
		log.Printf("[toolexec] tool %q execution timed out after %s", call.Name, timeout)
		return errorMessage(call, fmt.Sprintf("tool execution timeout (%s)", timeout))
	}
}

// ExecuteCalls runs every call concurrently and returns results in the same
// order as calls.
func (e *Executor) ExecuteCalls(ctx context.Context, calls []llm.ToolCall, depth int) []llm.Message {
	if len(calls) == 0 {
		return nil
	}
	results := make([]llm.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = e.ExecuteCall(ctx, call, depth)
		}(i, call)
	}
	wg.Wait()
	return results
}

func successMessage(call llm.ToolCall, output string) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

func errorMessage(call llm.ToolCall, message string) llm.Message {
	payload, _ := json.Marshal(map[string]any{"error": true, "message": message})
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    string(payload),
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}
