package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/toolexec"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

type scriptedBackend struct {
	responses []llm.Message
	calls     int
	plainErr  error
}

func (b *scriptedBackend) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	if b.plainErr != nil {
		return llm.Message{}, b.plainErr
	}
	return llm.Message{Role: llm.RoleAssistant, Content: "plain answer"}, nil
}

func (b *scriptedBackend) CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	resp := b.responses[b.calls]
	b.calls++
	return resp, nil
}

type echoTool struct{}

func (echoTool) Name() string                 { return "echo" }
func (echoTool) Description() string          { return "echoes" }
func (echoTool) InputSchema() json.RawMessage { return toolregistry.BuildSchema() }
func (echoTool) Init(context.Context) error   { return nil }
func (echoTool) Close() error                 { return nil }
func (echoTool) Execute(context.Context, json.RawMessage) (toolregistry.ToolResult, error) {
	return toolregistry.ToolResult{Output: "echoed"}, nil
}

func newRouter(t *testing.T) *Router {
	t.Helper()
	reg := toolregistry.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := toolexec.New(reg, "model-1", toolexec.DefaultConfig())
	return New(reg, exec, DefaultConfig())
}

func TestHandleCompletion_NoToolsInResponse(t *testing.T) {
	r := newRouter(t)
	backend := &scriptedBackend{responses: []llm.Message{
		{Role: llm.RoleAssistant, Content: "final answer"},
	}}

	resp, err := r.HandleCompletion(context.Background(), backend, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil, ToolChoiceAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "final answer" {
		t.Errorf("Content = %q, want %q", resp.Content, "final answer")
	}
	if backend.calls != 1 {
		t.Errorf("calls = %d, want 1", backend.calls)
	}
}

func TestHandleCompletion_ExecutesToolThenFinalAnswer(t *testing.T) {
	r := newRouter(t)
	backend := &scriptedBackend{responses: []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo"}}},
		{Role: llm.RoleAssistant, Content: "done"},
	}}

	resp, err := r.HandleCompletion(context.Background(), backend, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil, ToolChoiceAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("Content = %q, want %q", resp.Content, "done")
	}
	if backend.calls != 2 {
		t.Errorf("calls = %d, want 2", backend.calls)
	}
}

func TestHandleCompletion_ToolChoiceNoneSkipsToolCalling(t *testing.T) {
	r := newRouter(t)
	backend := &scriptedBackend{}

	resp, err := r.HandleCompletion(context.Background(), backend, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil, ToolChoiceNone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "plain answer" {
		t.Errorf("Content = %q, want plain completion", resp.Content)
	}
}

func TestHandleCompletion_SecondRoundToolCallsIgnored(t *testing.T) {
	r := newRouter(t)
	// Model keeps emitting tool_calls even after tool_choice flips to none.
	backend := &scriptedBackend{responses: []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo"}}},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "2", Name: "echo"}}},
	}}

	resp, err := r.HandleCompletion(context.Background(), backend, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil, ToolChoiceAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected the disobedient tool_calls response to be returned as-is, got %+v", resp)
	}
	if backend.calls != 2 {
		t.Errorf("calls = %d, want 2 (router must not call a third time)", backend.calls)
	}
}

func TestHandleCompletion_MaxIterations(t *testing.T) {
	reg := toolregistry.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := toolexec.New(reg, "model-1", toolexec.DefaultConfig())
	r := New(reg, exec, Config{MaxIterations: 1})

	backend := &scriptedBackend{responses: []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo"}}},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "2", Name: "echo"}}},
	}}

	resp, err := r.HandleCompletion(context.Background(), backend, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil, ToolChoiceAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.calls != 1 {
		t.Errorf("calls = %d, want 1 (bounded by MaxIterations)", backend.calls)
	}
	if len(resp.ToolCalls) == 0 {
		t.Error("expected the last (unresolved) response to be returned when max iterations is hit")
	}
}
