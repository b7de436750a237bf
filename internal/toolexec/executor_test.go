package toolexec

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

type fakeTool struct {
	name  string
	delay time.Duration
	err   error
	out   string
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "fake" }
func (f *fakeTool) InputSchema() json.RawMessage { return toolregistry.BuildSchema() }
func (f *fakeTool) Init(context.Context) error   { return nil }
func (f *fakeTool) Close() error                 { return nil }
func (f *fakeTool) Execute(ctx context.Context, _ json.RawMessage) (toolregistry.ToolResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return toolregistry.ToolResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return toolregistry.ToolResult{}, f.err
	}
	return toolregistry.ToolResult{Output: f.out}, nil
}

func newRegistryWith(t *testing.T, tools ...*fakeTool) *toolregistry.Registry {
	t.Helper()
	reg := toolregistry.NewRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %q: %v", tool.name, err)
		}
	}
	return reg
}

func TestExecuteCall_Success(t *testing.T) {
	reg := newRegistryWith(t, &fakeTool{name: "echo", out: "hi"})
	exec := New(reg, "model-1", DefaultConfig())

	msg := exec.ExecuteCall(context.Background(), llm.ToolCall{ID: "1", Name: "echo"}, 0)
	if msg.Content != "hi" || msg.Role != llm.RoleTool {
		t.Errorf("got %+v, want content=hi role=tool", msg)
	}
}

func TestExecuteCall_NotFound(t *testing.T) {
	reg := toolregistry.NewRegistry()
	exec := New(reg, "model-1", DefaultConfig())

	msg := exec.ExecuteCall(context.Background(), llm.ToolCall{ID: "1", Name: "missing"}, 0)
	if msg.Role != llm.RoleTool {
		t.Fatalf("role = %q, want tool", msg.Role)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &parsed); err != nil {
		t.Fatalf("error content not JSON: %v", err)
	}
	if parsed["error"] != true {
		t.Error("expected error=true in content")
	}
}

func TestExecuteCall_DepthLimit(t *testing.T) {
	reg := newRegistryWith(t, &fakeTool{name: "echo", out: "hi"})
	exec := New(reg, "model-1", Config{TimeoutPerTool: time.Second, MaxCallDepth: 2})

	msg := exec.ExecuteCall(context.Background(), llm.ToolCall{ID: "1", Name: "echo"}, 2)
	if msg.Content == "hi" {
		t.Error("depth limit should have prevented execution")
	}
}

func TestExecuteCall_Allowlist(t *testing.T) {
	reg := newRegistryWith(t, &fakeTool{name: "echo", out: "hi"})
	exec := New(reg, "model-1", Config{TimeoutPerTool: time.Second, MaxCallDepth: 3, AllowedTools: []string{"other"}})

	msg := exec.ExecuteCall(context.Background(), llm.ToolCall{ID: "1", Name: "echo"}, 0)
	if msg.Content == "hi" {
		t.Error("tool not in allowlist should not execute")
	}
}

func TestExecuteCall_Timeout(t *testing.T) {
	reg := newRegistryWith(t, &fakeTool{name: "slow", delay: 50 * time.Millisecond})
	exec := New(reg, "model-1", Config{TimeoutPerTool: 5 * time.Millisecond, MaxCallDepth: 3})

	msg := exec.ExecuteCall(context.Background(), llm.ToolCall{ID: "1", Name: "slow"}, 0)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &parsed); err != nil || parsed["error"] != true {
		t.Errorf("expected timeout error content, got %q", msg.Content)
	}
}

func TestExecuteCalls_Parallel(t *testing.T) {
	reg := newRegistryWith(t,
		&fakeTool{name: "a", out: "A"},
		&fakeTool{name: "b", out: "B"},
	)
	exec := New(reg, "model-1", DefaultConfig())

	calls := []llm.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}
	results := exec.ExecuteCalls(context.Background(), calls, 0)
	if len(results) != 2 || results[0].Content != "A" || results[1].Content != "B" {
		t.Errorf("got %+v", results)
	}
}
