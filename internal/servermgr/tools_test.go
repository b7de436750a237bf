package servermgr

import (
	"testing"

	"github.com/fluidmcp/gateway/internal/mcpproxy"
	"github.com/fluidmcp/gateway/internal/restart"
	"github.com/fluidmcp/gateway/internal/store/memory"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

func TestQualifiedToolName(t *testing.T) {
	if got := qualifiedToolName("weather", "forecast"); got != "weather__forecast" {
		t.Errorf("got %q, want weather__forecast", got)
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	repo := memory.New(100)
	return New(repo, restart.NewEngine(), toolregistry.NewRegistry(), Config{AllowedCommands: []string{"true"}})
}

func TestRegisterTools_PublishesQualifiedNames(t *testing.T) {
	m := newTestManager(t)
	h := &handle{id: "weather", done: make(chan struct{})}

	m.registerTools(h, []mcpproxy.ToolInfo{
		{Name: "forecast", Description: "get forecast", InputSchema: toolregistry.BuildSchema()},
		{Name: "alerts", Description: "get alerts", InputSchema: toolregistry.BuildSchema()},
	})

	if _, ok := m.registry.Get("weather__forecast"); !ok {
		t.Error("expected weather__forecast to be registered")
	}
	if _, ok := m.registry.Get("weather__alerts"); !ok {
		t.Error("expected weather__alerts to be registered")
	}
	if len(m.registry.List()) != 2 {
		t.Errorf("registry has %d tools, want 2", len(m.registry.List()))
	}
}

func TestRegisterTools_ReplacesPreviousSet(t *testing.T) {
	m := newTestManager(t)
	h := &handle{id: "weather", done: make(chan struct{})}

	m.registerTools(h, []mcpproxy.ToolInfo{
		{Name: "forecast", InputSchema: toolregistry.BuildSchema()},
	})
	m.registerTools(h, []mcpproxy.ToolInfo{
		{Name: "alerts", InputSchema: toolregistry.BuildSchema()},
	})

	if _, ok := m.registry.Get("weather__forecast"); ok {
		t.Error("stale tool from previous registration should have been unregistered")
	}
	if _, ok := m.registry.Get("weather__alerts"); !ok {
		t.Error("expected weather__alerts to be registered")
	}
}

func TestUnregisterServerTools(t *testing.T) {
	m := newTestManager(t)
	h := &handle{id: "weather", done: make(chan struct{})}
	m.registerTools(h, []mcpproxy.ToolInfo{
		{Name: "forecast", InputSchema: toolregistry.BuildSchema()},
	})

	m.unregisterServerTools(h)

	if _, ok := m.registry.Get("weather__forecast"); ok {
		t.Error("expected tool to be unregistered")
	}
	if len(h.registeredTools) != 0 {
		t.Errorf("handle.registeredTools not cleared: %v", h.registeredTools)
	}
}

func TestRegisterTools_NilRegistryIsNoop(t *testing.T) {
	repo := memory.New(100)
	m := New(repo, restart.NewEngine(), nil, Config{})
	h := &handle{id: "weather", done: make(chan struct{})}

	m.registerTools(h, []mcpproxy.ToolInfo{{Name: "forecast", InputSchema: toolregistry.BuildSchema()}})
	if len(h.registeredTools) != 0 {
		t.Error("expected no-op when registry is nil")
	}
}
