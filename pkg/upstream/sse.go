package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/slzcdhd/1mcp/internal/config"
	"github.com/slzcdhd/1mcp/internal/jsonrpc"
)

// SSEConnector speaks the paired-channel SSE transport: a long-lived
// GET stream delivers server-to-client messages as "data:" events, and
// each client-to-server message is a separate POST to an endpoint URL
// the server announces as the stream's first event.
type SSEConnector struct {
	*base
	cfg    config.Upstream
	client *http.Client

	mu        sync.Mutex
	postURL   string
	sessionID string
	resp      *http.Response
}

// NewSSE builds an SSE connector for cfg.
func NewSSE(cfg config.Upstream, logger *slog.Logger) *SSEConnector {
	return &SSEConnector{base: newBase(cfg.Name, logger), cfg: cfg, client: &http.Client{}}
}

func (c *SSEConnector) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("upstream %s: build sse request: %w", c.name, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("upstream %s: sse connect: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.setStatus(StatusError)
		return fmt.Errorf("upstream %s: sse connect: status %d", c.name, resp.StatusCode)
	}

	c.mu.Lock()
	c.resp = resp
	c.mu.Unlock()

	t := &sseFrame{
		conn:    c,
		reader:  bufio.NewReader(resp.Body),
		inCh:    make(chan inboundMessage, 16),
		closeCh: make(chan struct{}),
		ready:   make(chan struct{}),
	}
	go t.readLoop()

	select {
	case <-t.ready:
	case <-ctx.Done():
		resp.Body.Close()
		c.setStatus(StatusError)
		return ctx.Err()
	}

	c.attach(t)
	if err := performHandshake(ctx, c.base); err != nil {
		c.setStatus(StatusError)
		return err
	}
	return nil
}

func (c *SSEConnector) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params)
}

func (c *SSEConnector) Notify(ctx context.Context, method string, params any) error {
	return c.notify(ctx, method, params)
}

func (c *SSEConnector) Close() error {
	err := c.close()
	c.mu.Lock()
	resp := c.resp
	c.mu.Unlock()
	if resp != nil {
		resp.Body.Close()
	}
	return err
}

func (c *SSEConnector) resolvePostURL(raw string) (string, error) {
	base, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

type sseFrame struct {
	conn    *SSEConnector
	reader  *bufio.Reader
	inCh      chan inboundMessage
	closeCh   chan struct{}
	ready     chan struct{}
	once      sync.Once
	readyOnce sync.Once
}

func (f *sseFrame) writeMessage(ctx context.Context, msg any) error {
	f.conn.mu.Lock()
	postURL := f.conn.postURL
	sessionID := f.conn.sessionID
	f.conn.mu.Unlock()
	if postURL == "" {
		return fmt.Errorf("upstream %s: sse endpoint not announced yet", f.conn.name)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(string(b)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
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
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upstream %s: sse post status %d", f.conn.name, resp.StatusCode)
	}
	return nil
}

func (f *sseFrame) inbound() <-chan inboundMessage { return f.inCh }

func (f *sseFrame) closeTransport() error {
	f.once.Do(func() { close(f.closeCh) })
	return nil
}

func (f *sseFrame) signalReady() {
	f.readyOnce.Do(func() { close(f.ready) })
}

// readLoop parses the SSE stream: repeated "event: <type>\ndata:
// <payload>\n\n" blocks. An "endpoint" event announces the POST URL;
// a "message" event (or an untyped one) carries a JSON-RPC envelope.
func (f *sseFrame) readLoop() {
	defer close(f.inCh)
	defer f.signalReady()

	var eventType string
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil
		switch eventType {
		case "endpoint":
			postURL, err := f.conn.resolvePostURL(payload)
			if err != nil {
				f.conn.logger.Warn("sse endpoint event unparsable", "upstream", f.conn.name, "error", err)
				return
			}
			f.conn.mu.Lock()
			f.conn.postURL = postURL
			f.conn.mu.Unlock()
			f.signalReady()
		default:
			var env jsonrpc.Envelope
			if err := json.Unmarshal([]byte(payload), &env); err != nil {
				f.conn.logger.Warn("discarding malformed sse event", "upstream", f.conn.name, "error", err)
				return
			}
			select {
			case f.inCh <- inboundMessage{envelope: &env}:
			case <-f.closeCh:
			}
		}
		eventType = ""
	}

	for {
		line, err := f.reader.ReadString('\n')
		if err != nil {
			flush()
			select {
			case f.inCh <- inboundMessage{err: err}:
			case <-f.closeCh:
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"), strings.HasPrefix(line, ":"):
			// ignored: event id / retry hint / comment
		}
	}
}
