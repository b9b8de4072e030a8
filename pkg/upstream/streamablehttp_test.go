package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slzcdhd/1mcp/internal/config"
	"github.com/slzcdhd/1mcp/internal/jsonrpc"
)

func TestStreamableHTTPConnectorHandshakeAndCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// no server-initiated event stream support
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var env jsonrpc.Envelope
		_ = json.Unmarshal(body, &env)

		w.Header().Set("Content-Type", "application/json")
		switch env.Method {
		case "initialize":
			resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: env.ID, Result: json.RawMessage(`{"protocolVersion":"2025-06-18"}`)}
			json.NewEncoder(w).Encode(resp)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: env.ID, Result: json.RawMessage(`{"tools":[{"name":"add"}]}`)}
			json.NewEncoder(w).Encode(resp)
		default:
			resp := jsonrpc.NewErrorResponse(env.ID, jsonrpc.CodeMethodNotFound, "not found")
			json.NewEncoder(w).Encode(resp)
		}
	}))
	defer srv.Close()

	cfg := config.Upstream{Name: "fake", Transport: config.TransportStreamableHTTP, URL: srv.URL}
	conn := NewStreamableHTTP(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	raw, err := conn.Call(ctx, "tools/list", map[string]any{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected a non-empty result")
	}
}
