package mcpproxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeChild emulates an MCP server on the far side of the proxy's pipes:
// the proxy's writes arrive on in, and anything written to out reaches the
// proxy's reader goroutine.
type fakeChild struct {
	in  *io.PipeReader // proxy -> child (the child's stdin)
	out *io.PipeWriter // child -> proxy (the child's stdout)

	mu       sync.Mutex
	received []envelope
}

func newFakeChild(t *testing.T) (*Proxy, *fakeChild) {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	p := New("test", stdoutR, stdinW)
	t.Cleanup(func() {
		p.Close()
		stdinR.Close()
		stdoutW.Close()
	})
	return p, &fakeChild{in: stdinR, out: stdoutW}
}

// serve reads proxy requests line by line and passes each to handle; a nil
// return means no response (the child stays silent for that message).
func (c *fakeChild) serve(t *testing.T, handle func(env envelope) []byte) {
	t.Helper()
	go func() {
		r := bufio.NewReader(c.in)
		for {
			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				var env envelope
				if jsonErr := json.Unmarshal(line, &env); jsonErr == nil {
					c.mu.Lock()
					c.received = append(c.received, env)
					c.mu.Unlock()
					if resp := handle(env); resp != nil {
						c.out.Write(append(resp, '\n'))
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

func (c *fakeChild) sawMethod(method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range c.received {
		if env.Method == method {
			return true
		}
	}
	return false
}

func resultResponse(id int64, result string) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

func TestListTools(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte {
		if env.Method != "tools/list" {
			t.Errorf("unexpected method %q", env.Method)
			return nil
		}
		return resultResponse(*env.ID, `{"tools":[{"name":"read_file","description":"read a file","inputSchema":{"type":"object","properties":{"path":{"type":"string"}}}}]}`)
	})

	tools, err := p.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "read_file" {
		t.Fatalf("ListTools = %+v", tools)
	}
	if !strings.Contains(string(tools[0].InputSchema), `"path"`) {
		t.Errorf("InputSchema = %s, want the declared properties carried through", tools[0].InputSchema)
	}
}

func TestRequestDemuxByID(t *testing.T) {
	p, child := newFakeChild(t)

	// Hold every request and answer them in reverse arrival order, so a
	// response-to-request mismatch would be caught immediately.
	// Hold every request and answer in reverse arrival order, echoing the
	// request's method back in the result; a demux mismatch would hand a
	// caller some other request's echo.
	var pendingMu sync.Mutex
	var held []envelope
	child.serve(t, func(env envelope) []byte {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		held = append(held, env)
		if len(held) == 2 {
			for i := len(held) - 1; i >= 0; i-- {
				env := held[i]
				child.out.Write(append(resultResponse(*env.ID, fmt.Sprintf(`{"echo":%q}`, env.Method)), '\n'))
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			method := fmt.Sprintf("test/call-%d", i)
			raw, err := p.request(context.Background(), method, struct{}{})
			if err != nil {
				errs[i] = err
				return
			}
			var body struct {
				Echo string `json:"echo"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				errs[i] = err
				return
			}
			if body.Echo != method {
				errs[i] = fmt.Errorf("got echo for %q, want %q (cross-talk)", body.Echo, method)
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d: %v", i, err)
		}
	}
}

func TestChildErrorPropagated(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte {
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, *env.ID))
	})

	_, err := p.request(context.Background(), "bogus/method", struct{}{})
	if err == nil {
		t.Fatal("expected error from child error object")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
	if rpcErr.Code != -32601 || rpcErr.Message != "method not found" {
		t.Errorf("RPCError = %+v", rpcErr)
	}
}

func TestNotificationsIgnored(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte {
		// Interleave a notification before the real response; the waiter must
		// see only its own result.
		child.out.Write([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}` + "\n"))
		return resultResponse(*env.ID, `{"ok":true}`)
	})

	raw, err := p.request(context.Background(), "tools/list", struct{}{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !strings.Contains(string(raw), `"ok"`) {
		t.Errorf("result = %s", raw)
	}
}

func TestCancellationSendsCancelNotification(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte {
		return nil // never respond; the caller must rely on ctx
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.request(ctx, "tools/call", struct{}{})
	if err != context.Canceled {
		t.Fatalf("request after cancel = %v, want context.Canceled", err)
	}

	// The best-effort cancel notification reaches the child shortly after.
	deadline := time.After(time.Second)
	for !child.sawMethod("notifications/cancelled") {
		select {
		case <-deadline:
			t.Fatal("child never received notifications/cancelled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestInitializeSendsInitializedNotification(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte {
		if env.Method == "initialize" {
			return resultResponse(*env.ID, `{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake","version":"1.0"},"capabilities":{}}`)
		}
		return nil
	})

	result, err := p.Initialize(context.Background(), "test-client", "0.0.1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if result.ServerInfo.Name != "fake" {
		t.Errorf("ServerInfo = %+v", result.ServerInfo)
	}

	deadline := time.After(time.Second)
	for !child.sawMethod("notifications/initialized") {
		select {
		case <-deadline:
			t.Fatal("child never received notifications/initialized")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCallTool_TextContent(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte {
		if env.Method != "tools/call" {
			return nil
		}
		var params struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(env.Params, &params)
		if params.Name != "read_file" {
			t.Errorf("tool name = %q", params.Name)
		}
		return resultResponse(*env.ID, `{"content":[{"type":"text","text":"hello"},{"type":"text","text":"world"}],"isError":false}`)
	})

	result, err := p.CallTool(context.Background(), "read_file", map[string]any{"path": "/tmp/x"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Error("IsError = true, want false")
	}
	if len(result.Content) != 2 {
		t.Fatalf("Content has %d blocks, want 2", len(result.Content))
	}
	if result.Text() != "hello\nworld" {
		t.Errorf("Text() = %q", result.Text())
	}
}

func TestCallTool_ImageAndResourceContent(t *testing.T) {
	p, child := newFakeChild(t)
	// The wire is line-delimited, so the whole response must stay on one line.
	blocks := `{"type":"text","text":"caption"},` +
		`{"type":"image","data":"aGVsbG8=","mimeType":"image/png"},` +
		`{"type":"resource","resource":{"uri":"file:///tmp/report.txt","mimeType":"text/plain","text":"report body"}},` +
		`{"type":"resource","resource":{"uri":"file:///tmp/blob.bin","mimeType":"application/octet-stream","blob":"AAEC"}}`
	child.serve(t, func(env envelope) []byte {
		return resultResponse(*env.ID, `{"content":[`+blocks+`],"isError":false}`)
	})

	result, err := p.CallTool(context.Background(), "render", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 4 {
		t.Fatalf("Content has %d blocks, want every block type preserved: %+v", len(result.Content), result.Content)
	}

	if b := result.Content[0]; b.Type != "text" || b.Text != "caption" {
		t.Errorf("text block = %+v", b)
	}
	if b := result.Content[1]; b.Type != "image" || b.Data != "aGVsbG8=" || b.MimeType != "image/png" {
		t.Errorf("image block = %+v", b)
	}
	if b := result.Content[2]; b.Type != "resource" || b.URI != "file:///tmp/report.txt" || b.Text != "report body" {
		t.Errorf("text resource block = %+v", b)
	}
	if b := result.Content[3]; b.Type != "resource" || b.URI != "file:///tmp/blob.bin" || b.Data != "AAEC" {
		t.Errorf("blob resource block = %+v", b)
	}

	flat := result.Text()
	for _, want := range []string{"caption", "[image image/png]", "report body", "[resource file:///tmp/blob.bin]"} {
		if !strings.Contains(flat, want) {
			t.Errorf("Text() = %q, missing %q", flat, want)
		}
	}
}

func TestCallTool_ChildRPCErrorIsData(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte {
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"bad arguments","data":{"field":"path"}}}`, *env.ID))
	})

	result, err := p.CallTool(context.Background(), "read_file", map[string]any{"path": 7})
	if err != nil {
		t.Fatalf("a child JSON-RPC error must come back as data, got error: %v", err)
	}
	if !result.IsError {
		t.Error("IsError = false, want true")
	}
	if result.RPCErr == nil {
		t.Fatal("RPCErr not set")
	}
	if result.RPCErr.Code != -32602 || result.RPCErr.Message != "bad arguments" {
		t.Errorf("RPCErr = %+v", result.RPCErr)
	}
	if !strings.Contains(string(result.RPCErr.Data), "path") {
		t.Errorf("Data = %s, want the child's data carried verbatim", result.RPCErr.Data)
	}
}

func TestProxyClosedWhileAwaiting(t *testing.T) {
	p, child := newFakeChild(t)
	child.serve(t, func(env envelope) []byte { return nil })

	done := make(chan error, 1)
	go func() {
		_, err := p.request(context.Background(), "tools/list", struct{}{})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after proxy close")
		}
	case <-time.After(time.Second):
		t.Fatal("request still blocked after Close")
	}
}
