// Package mcpproxy speaks JSON-RPC 2.0 to a child MCP server over stdio and
// exposes a typed API. It owns only the wire protocol: the process itself
// -- pid, env, stderr capture -- belongs to package servermgr, which wires
// a child's stdin/stdout pipes into a Proxy.
package mcpproxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// envelope is the JSON-RPC 2.0 message shape used on the wire: single-line
// UTF-8 JSON objects terminated by '\n'.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by a child. For tool calls
// it is data, not a transport failure: the call round-tripped fine, the
// tool refused, and code/message/data travel back to the caller verbatim.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// Proxy demultiplexes JSON-RPC responses by request id behind a single
// reader goroutine, and serializes writes behind a writer lock. No request
// blocks behind another: many tool calls may be in flight concurrently.
type Proxy struct {
	w  io.Writer
	wm sync.Mutex

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]chan envelope

	closed   chan struct{}
	closeErr error
	closeMu  sync.Mutex

	// label identifies the owning server in log lines.
	label string
}

// New wraps r/w (typically a child process's stdout/stdin pipes) in a Proxy.
// It spawns the reader goroutine immediately; callers must call Close when
// the underlying pipes are gone.
func New(label string, r io.Reader, w io.Writer) *Proxy {
	p := &Proxy{
		w:       w,
		pending: make(map[int64]chan envelope),
		closed:  make(chan struct{}),
		label:   label,
	}
	go p.readLoop(bufio.NewReaderSize(r, 64*1024))
	return p
}

// readLoop is the sole reader of the child's stdout. It routes responses
// (messages with "id") to the waiting caller and silently drops
// notifications (messages with no "id"), per the wire contract.
func (p *Proxy) readLoop(r *bufio.Reader) {
	defer p.finish(io.ErrClosedPipe)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			p.dispatch(bytes.TrimSpace(line))
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[Proxy:%s] read error: %v", p.label, err)
			}
			return
		}
	}
}

func (p *Proxy) dispatch(line []byte) {
	if len(line) == 0 {
		return
	}
	var msg envelope
	if err := json.Unmarshal(line, &msg); err != nil {
		log.Printf("[Proxy:%s] skipping non-JSON-RPC line: %v", p.label, err)
		return
	}
	if msg.ID == nil {
		// Notification, e.g. notifications/initialized -- no response expected.
		return
	}
	p.pendingMu.Lock()
	ch, ok := p.pending[*msg.ID]
	if ok {
		delete(p.pending, *msg.ID)
	}
	p.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

func (p *Proxy) finish(err error) {
	p.closeMu.Lock()
	select {
	case <-p.closed:
	default:
		p.closeErr = err
		close(p.closed)
	}
	p.closeMu.Unlock()

	p.pendingMu.Lock()
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}

// Close stops accepting responses. It does not close the underlying pipes;
// the owning servermgr handle does that as part of process teardown.
func (p *Proxy) Close() {
	p.finish(io.EOF)
}

// request performs one call/response round trip, honoring ctx cancellation.
// On cancellation it sends a notifications/cancelled message for the
// request id (best-effort) and returns ctx.Err().
func (p *Proxy) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&p.nextID, 1)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal params for %s: %w", method, err)
	}

	respCh := make(chan envelope, 1)
	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	reqID := id
	req := envelope{JSONRPC: "2.0", ID: &reqID, Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal request %s: %w", method, err)
	}

	p.wm.Lock()
	_, writeErr := p.w.Write(append(data, '\n'))
	p.wm.Unlock()
	if writeErr != nil {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		return nil, fmt.Errorf("mcp: write %s request: %w", method, writeErr)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("mcp: proxy closed while awaiting %s", method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		p.cancel(id)
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("mcp: proxy closed while awaiting %s: %w", method, p.closeErr)
	}
}

// cancel sends a best-effort JSON-RPC notification so the child can abandon
// in-flight work for id; the Go-side waiter has already returned.
func (p *Proxy) cancel(id int64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()

	params, _ := json.Marshal(map[string]any{"requestId": id, "reason": "client cancelled"})
	notif := envelope{JSONRPC: "2.0", Method: "notifications/cancelled", Params: params}
	data, err := json.Marshal(notif)
	if err != nil {
		return
	}
	p.wm.Lock()
	_, _ = p.w.Write(append(data, '\n'))
	p.wm.Unlock()
}

// Initialize performs the MCP handshake. It must be the first call after
// construction.
func (p *Proxy) Initialize(ctx context.Context, clientName, clientVersion string) (*sdk_mcp.InitializeResult, error) {
	req := sdk_mcp.InitializeRequest{
		Params: sdk_mcp.InitializeParams{
			ProtocolVersion: sdk_mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdk_mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}
	raw, err := p.request(ctx, "initialize", req.Params)
	if err != nil {
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}
	var result sdk_mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp: parse initialize result: %w", err)
	}
	// notifications/initialized has no response; fire-and-forget.
	p.notify(ctx, "notifications/initialized", struct{}{})
	return &result, nil
}

func (p *Proxy) notify(_ context.Context, method string, params any) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return
	}
	notif := envelope{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	data, err := json.Marshal(notif)
	if err != nil {
		return
	}
	p.wm.Lock()
	_, _ = p.w.Write(append(data, '\n'))
	p.wm.Unlock()
}

// ToolInfo is the gateway-local shape of one tool a server exposed, used to
// populate ServerConfig.tools and the toolregistry.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ListTools returns metadata for every tool exposed by the child.
func (p *Proxy) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := p.request(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list_tools: %w", err)
	}
	var result sdk_mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp: parse list_tools result: %w", err)
	}
	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage("{}")
		}
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return tools, nil
}

// ContentBlock is one block of a tool result: text, a base64 image, or an
// embedded resource. Every block type a child may return is preserved so
// callers decide for themselves how to render non-text payloads.
type ContentBlock struct {
	Type     string `json:"type"` // "text", "image", or "resource"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`      // base64 payload (image, blob resource)
	MimeType string `json:"mime_type,omitempty"` // image and resource blocks
	URI      string `json:"uri,omitempty"`       // resource blocks
}

// CallResult is the gateway-local shape of a tool invocation's outcome.
type CallResult struct {
	Content []ContentBlock
	IsError bool

	// RPCErr is set when the child answered with a JSON-RPC error object
	// instead of a result. The call itself completed; code/message/data are
	// the child's, verbatim.
	RPCErr *RPCError
}

// Text flattens Content into the single string a tool message to an LLM
// needs: text blocks verbatim, non-text blocks as bracketed markers so the
// model knows something was there.
func (r *CallResult) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		switch {
		case b.Text != "":
			sb.WriteString(b.Text)
		case b.Type == "image":
			sb.WriteString("[image " + b.MimeType + "]")
		case b.Type == "resource":
			sb.WriteString("[resource " + b.URI + "]")
		}
	}
	return sb.String()
}

// CallTool invokes the named tool with the given arguments. Cancellation of
// ctx sends a JSON-RPC notifications/cancelled for this call's request id
// and returns ctx.Err() rather than hanging the turn. A JSON-RPC error
// object from the child comes back as CallResult.RPCErr with a nil error;
// a non-nil error means the call itself never round-tripped.
func (p *Proxy) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	var req sdk_mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	raw, err := p.request(ctx, "tools/call", req.Params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return &CallResult{IsError: true, RPCErr: rpcErr}, nil
		}
		return nil, err
	}
	var result sdk_mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp: parse call_tool result: %w", err)
	}

	blocks := make([]ContentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		switch v := c.(type) {
		case sdk_mcp.TextContent:
			blocks = append(blocks, ContentBlock{Type: "text", Text: v.Text})
		case sdk_mcp.ImageContent:
			blocks = append(blocks, ContentBlock{Type: "image", Data: v.Data, MimeType: v.MIMEType})
		case sdk_mcp.EmbeddedResource:
			blocks = append(blocks, resourceBlock(v))
		}
	}
	return &CallResult{Content: blocks, IsError: result.IsError}, nil
}

func resourceBlock(r sdk_mcp.EmbeddedResource) ContentBlock {
	switch res := r.Resource.(type) {
	case sdk_mcp.TextResourceContents:
		return ContentBlock{Type: "resource", URI: res.URI, MimeType: res.MIMEType, Text: res.Text}
	case sdk_mcp.BlobResourceContents:
		return ContentBlock{Type: "resource", URI: res.URI, MimeType: res.MIMEType, Data: res.Blob}
	default:
		return ContentBlock{Type: "resource"}
	}
}
