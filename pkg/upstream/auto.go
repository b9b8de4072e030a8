package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slzcdhd/1mcp/internal/config"
)

// ErrUnknownTransport is returned when neither the streamable-HTTP nor
// the SSE probe succeeds for a URL-bearing upstream within the probe
// timeout.
var ErrUnknownTransport = errors.New("upstream: could not detect transport (neither streamable-http nor sse responded)")

// detectTransport probes a URL-bearing upstream whose config omits an
// explicit transport tag, or names "sse" (kept auto-detecting so a
// server that has migrated to streamable-HTTP is still reachable): try
// streamable-HTTP first with a synthetic initialize POST, then fall
// back to SSE by checking whether a GET with Accept: text/event-stream
// is honored and answered with an event-stream content type.
func detectTransport(ctx context.Context, cfg config.Upstream, client *http.Client) (config.Transport, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if probeStreamableHTTP(probeCtx, cfg, client) {
		return config.TransportStreamableHTTP, nil
	}
	if probeSSE(probeCtx, cfg, client) {
		return config.TransportSSE, nil
	}
	return "", ErrUnknownTransport
}

func probeStreamableHTTP(ctx context.Context, cfg config.Upstream, client *http.Client) bool {
	body := strings.NewReader(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"` + protocolVersion + `","capabilities":{},"clientInfo":{"name":"mcp-aggregator-probe","version":"1.0.0"}}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, body)
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func probeSSE(ctx context.Context, cfg config.Upstream, client *http.Client) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}

// NewConnector builds the right Connector for cfg. config.TransportAuto
// and config.TransportSSE both resolve through detectTransport — SSE
// stays auto-detecting so an upstream configured "sse" that has since
// migrated to streamable-HTTP is still tolerated rather than refused.
// If detection fails outright, the returned Connector's Connect always
// fails with ErrUnknownTransport.
func NewConnector(ctx context.Context, cfg config.Upstream, logger *slog.Logger) Connector {
	transport := cfg.Transport
	if transport == config.TransportAuto || transport == config.TransportSSE {
		detected, err := detectTransport(ctx, cfg, &http.Client{})
		if err != nil {
			return newFailingConnector(cfg.Name, err)
		}
		transport = detected
	}
	switch transport {
	case config.TransportStdio:
		return NewStdio(cfg, logger)
	case config.TransportStreamableHTTP:
		return NewStreamableHTTP(cfg, logger)
	default:
		return NewSSE(cfg, logger)
	}
}

// failingConnector is a Connector stand-in for an upstream whose
// transport could not be determined; Connect always fails with the
// detection error, so it surfaces through the manager's normal
// connect-failure/reconnect path.
type failingConnector struct {
	name string
	err  error
}

func newFailingConnector(name string, err error) *failingConnector {
	return &failingConnector{name: name, err: err}
}

func (c *failingConnector) Name() string { return c.name }

func (c *failingConnector) Connect(ctx context.Context) error { return c.err }

func (c *failingConnector) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return nil, ErrNotConnected
}

func (c *failingConnector) Notify(ctx context.Context, method string, params any) error {
	return ErrNotConnected
}

func (c *failingConnector) Events() <-chan Event { return nil }
func (c *failingConnector) Status() Status       { return StatusError }
func (c *failingConnector) Close() error         { return nil }
