package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/slzcdhd/1mcp/pkg/registry"
	"github.com/slzcdhd/1mcp/pkg/upstream"
)

type fakeManager struct {
	conns map[string]upstream.Connector
}

func (m *fakeManager) Connector(name string) (upstream.Connector, bool) {
	c, ok := m.conns[name]
	return c, ok
}
func (m *fakeManager) Status() map[string]upstream.Status {
	out := make(map[string]upstream.Status, len(m.conns))
	for name := range m.conns {
		out[name] = upstream.StatusConnected
	}
	return out
}
func (m *fakeManager) ConnectedCount() int { return len(m.conns) }

type fakeConn struct {
	name    string
	results map[string]json.RawMessage
}

func (f *fakeConn) Name() string                          { return f.name }
func (f *fakeConn) Connect(ctx context.Context) error      { return nil }
func (f *fakeConn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f.results[method], nil
}
func (f *fakeConn) Notify(ctx context.Context, method string, params any) error { return nil }
func (f *fakeConn) Events() <-chan upstream.Event                              { return nil }
func (f *fakeConn) Status() upstream.Status                                    { return upstream.StatusConnected }
func (f *fakeConn) Close() error                                               { return nil }

func newTestServer() (*Server, *registry.Registry) {
	reg := registry.New(nil)
	reg.RegisterTools("calc", []registry.Tool{{Upstream: "calc", Name: "add", PrefixedName: "calc___add"}})

	mgr := &fakeManager{conns: map[string]upstream.Connector{
		"calc": &fakeConn{name: "calc", results: map[string]json.RawMessage{
			"tools/call": json.RawMessage(`{"content":[{"type":"text","text":"3"}]}`),
		}},
	}}
	router := New(reg, mgr, nil)
	srv := NewServer(router, mgr, Options{DisableCORS: true})
	return srv, reg
}

func postMCP(t *testing.T, handler http.Handler, sessionID string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	resp := rec.Result()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestInitializeMintsSession(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler(Options{DisableCORS: true})

	resp, body := postMCP(t, handler, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(sessionHeader) == "" {
		t.Fatalf("expected a minted session id header")
	}
	if body["result"] == nil {
		t.Fatalf("expected a result: %+v", body)
	}
}

func TestCallWithoutSessionIsRejected(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler(Options{DisableCORS: true})

	_, body := postMCP(t, handler, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if body["error"] == nil {
		t.Fatalf("expected an error for a missing session, got %+v", body)
	}
}

func TestToolsListAndCallRoundTrip(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler(Options{DisableCORS: true})

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	sid := rec.Result().Header.Get(sessionHeader)

	_, listBody := postMCP(t, handler, sid, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	result, ok := listBody["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected a result map: %+v", listBody)
	}
	tools, _ := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected one tool, got %+v", result)
	}

	_, callBody := postMCP(t, handler, sid, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"calc___add","arguments":{}}}`)
	if callBody["error"] != nil {
		t.Fatalf("unexpected error: %+v", callBody)
	}
	if callBody["result"] == nil {
		t.Fatalf("expected a result: %+v", callBody)
	}
}

func TestUnknownToolReturnsIsErrorResult(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler(Options{DisableCORS: true})

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	sid := rec.Result().Header.Get(sessionHeader)

	_, body := postMCP(t, handler, sid, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope___nope"}}`)
	if body["error"] != nil {
		t.Fatalf("unknown tool should not be a JSON-RPC error: %+v", body)
	}
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected a result for an unknown tool: %+v", body)
	}
	if result["isError"] != true {
		t.Fatalf("expected isError:true, got %+v", result)
	}
	content, _ := result["content"].([]any)
	if len(content) == 0 {
		t.Fatalf("expected content entries, got %+v", result)
	}
	text, _ := content[0].(map[string]any)["text"].(string)
	if !regexp.MustCompile(`not found or server unavailable`).MatchString(text) {
		t.Fatalf("content text = %q, want a match for /not found or server unavailable/", text)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler(Options{DisableCORS: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Result().Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
	if body["totalTools"].(float64) != 1 {
		t.Fatalf("totalTools = %v, want 1", body["totalTools"])
	}
}
