package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/slzcdhd/1mcp/internal/config"
	"github.com/slzcdhd/1mcp/internal/jsonrpc"
)

// StreamableHTTPConnector speaks the single-endpoint streamable-HTTP
// transport: every message, request or notification, is POSTed to the
// same URL; a response is either a direct JSON body or a
// text/event-stream body carrying one or more JSON-RPC envelopes.
// Unsolicited upstream notifications arrive the same way, attached to
// whichever POST happens to be in flight, or via an optional GET
// stream the connector keeps open for the rest.
type StreamableHTTPConnector struct {
	*base
	cfg    config.Upstream
	client *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewStreamableHTTP builds a streamable-HTTP connector for cfg.
func NewStreamableHTTP(cfg config.Upstream, logger *slog.Logger) *StreamableHTTPConnector {
	return &StreamableHTTPConnector{base: newBase(cfg.Name, logger), cfg: cfg, client: &http.Client{}}
}

func (c *StreamableHTTPConnector) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	t := &streamableFrame{conn: c, inCh: make(chan inboundMessage, 16), closeCh: make(chan struct{})}
	c.attach(t)

	if err := performHandshake(ctx, c.base); err != nil {
		c.setStatus(StatusError)
		return err
	}

	go c.openEventStream()
	return nil
}

// openEventStream opens an optional GET listener for server-initiated
// notifications that arrive outside the request/response cycle. Not
// every streamable-HTTP server supports it; a non-200 response is
// treated as "unsupported" rather than a connection failure.
func (c *StreamableHTTPConnector) openEventStream() {
	req, err := http.NewRequest(http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body.Close()
		return
	}
	defer resp.Body.Close()

	scanEvents(bufio.NewReader(resp.Body), func(env *jsonrpc.Envelope) {
		if env.Method != "" && !env.IsResponse() && len(env.ID) == 0 {
			c.base.emit(Event{Notification: &jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: env.Method, Params: env.Params}})
		}
	})
}

func (c *StreamableHTTPConnector) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params)
}

func (c *StreamableHTTPConnector) Notify(ctx context.Context, method string, params any) error {
	return c.notify(ctx, method, params)
}

func (c *StreamableHTTPConnector) Close() error {
	return c.close()
}

type streamableFrame struct {
	conn    *StreamableHTTPConnector
	inCh    chan inboundMessage
	closeCh chan struct{}
	once    sync.Once
}

func (f *streamableFrame) writeMessage(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.conn.cfg.URL, strings.NewReader(string(b)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	f.conn.mu.Lock()
	sessionID := f.conn.sessionID
	f.conn.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	for k, v := range f.conn.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.conn.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		f.conn.mu.Lock()
		f.conn.sessionID = sid
		f.conn.mu.Unlock()
	}

	if resp.StatusCode == http.StatusAccepted {
		// A notification: no body expected.
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upstream %s: streamable-http status %d", f.conn.name, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		scanEvents(bufio.NewReader(resp.Body), func(env *jsonrpc.Envelope) {
			select {
			case f.inCh <- inboundMessage{envelope: env}:
			case <-f.closeCh:
			}
		})
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	var env jsonrpc.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("upstream %s: decode response: %w", f.conn.name, err)
	}
	select {
	case f.inCh <- inboundMessage{envelope: &env}:
	case <-f.closeCh:
	}
	return nil
}

func (f *streamableFrame) inbound() <-chan inboundMessage { return f.inCh }

func (f *streamableFrame) closeTransport() error {
	f.once.Do(func() { close(f.closeCh) })
	return nil
}

// scanEvents parses a text/event-stream body into JSON-RPC envelopes,
// calling onEnvelope for each "data:" payload encountered.
func scanEvents(r *bufio.Reader, onEnvelope func(*jsonrpc.Envelope)) {
	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil
		var env jsonrpc.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err == nil {
			onEnvelope(&env)
		}
	}
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
		if err != nil {
			flush()
			return
		}
	}
}
