package servermgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/fluidmcp/gateway/internal/mcpproxy"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

// qualifiedToolName prefixes a child's tool name with its owning server id
// so tools from different servers never collide inside the process-wide
// toolregistry.Registry that the Function-Call Router reads from.
func qualifiedToolName(serverID, name string) string {
	return serverID + "__" + name
}

// proxyTool adapts one MCP child tool into a toolregistry.Tool, routing
// execution back through the Manager so a server that restarted between
// registration and invocation is transparently re-acquired rather than
// calling a stale *mcpproxy.Proxy.
type proxyTool struct {
	mgr         *Manager
	serverID    string
	toolName    string
	description string
	schema      json.RawMessage
}

func (t *proxyTool) Name() string                  { return qualifiedToolName(t.serverID, t.toolName) }
func (t *proxyTool) Description() string           { return t.description }
func (t *proxyTool) InputSchema() json.RawMessage  { return t.schema }
func (t *proxyTool) Init(ctx context.Context) error { return nil }
func (t *proxyTool) Close() error                   { return nil }

func (t *proxyTool) Execute(ctx context.Context, args json.RawMessage) (toolregistry.ToolResult, error) {
	proxy, err := t.mgr.AcquireProxy(ctx, t.serverID, true, t.mgr.cfg.InitTimeout)
	if err != nil {
		return toolregistry.ToolResult{}, fmt.Errorf("acquire proxy for %q: %w", t.serverID, err)
	}

	var argMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argMap); err != nil {
			return toolregistry.ToolResult{}, fmt.Errorf("decode arguments: %w", err)
		}
	}

	result, err := proxy.CallTool(ctx, t.toolName, argMap)
	if err != nil {
		return toolregistry.ToolResult{}, err
	}
	if result.RPCErr != nil {
		return toolregistry.ToolResult{Error: result.RPCErr.Message}, nil
	}
	if result.IsError {
		return toolregistry.ToolResult{Error: result.Text()}, nil
	}
	return toolregistry.ToolResult{Output: result.Text()}, nil
}

// registerTools publishes every tool a server just advertised into the
// shared registry, first unregistering whatever that server had published
// before (e.g. its tool set changed across a restart).
func (m *Manager) registerTools(h *handle, tools []mcpproxy.ToolInfo) {
	if m.registry == nil {
		return
	}
	m.unregisterServerTools(h)

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		pt := &proxyTool{mgr: m, serverID: h.id, toolName: t.Name, description: t.Description, schema: t.InputSchema}
		if err := m.registry.Register(pt); err != nil {
			log.Printf("[ServerManager] register tool %q from %q: %v", t.Name, h.id, err)
			continue
		}
		names = append(names, pt.Name())
	}

	h.mu.Lock()
	h.registeredTools = names
	h.mu.Unlock()
}

// unregisterServerTools removes every tool h previously published, e.g. when
// it stops or crashes; a stopped server's tools must not appear to the
// Function-Call Router as callable.
func (m *Manager) unregisterServerTools(h *handle) {
	if m.registry == nil {
		return
	}
	h.mu.Lock()
	names := h.registeredTools
	h.registeredTools = nil
	h.mu.Unlock()

	for _, name := range names {
		m.registry.Unregister(name)
	}
}
