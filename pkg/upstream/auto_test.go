package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slzcdhd/1mcp/internal/config"
)

func TestDetectTransportPrefersStreamableHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":{}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	transport, err := detectTransport(context.Background(), config.Upstream{URL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("detectTransport: %v", err)
	}
	if transport != config.TransportStreamableHTTP {
		t.Fatalf("transport = %v, want streamable-http", transport)
	}
}

func TestDetectTransportFallsBackToSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Accept") == "text/event-stream" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	transport, err := detectTransport(context.Background(), config.Upstream{URL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("detectTransport: %v", err)
	}
	if transport != config.TransportSSE {
		t.Fatalf("transport = %v, want sse", transport)
	}
}

func TestDetectTransportUnknownWhenBothProbesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := detectTransport(context.Background(), config.Upstream{URL: srv.URL}, srv.Client())
	if err != ErrUnknownTransport {
		t.Fatalf("err = %v, want ErrUnknownTransport", err)
	}
}

func TestNewConnectorSurfacesUnknownTransportOnConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	conn := NewConnector(context.Background(), config.Upstream{Name: "flaky", Transport: config.TransportSSE, URL: srv.URL}, nil)
	if err := conn.Connect(context.Background()); err != ErrUnknownTransport {
		t.Fatalf("Connect() err = %v, want ErrUnknownTransport", err)
	}
}
