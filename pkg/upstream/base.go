package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slzcdhd/1mcp/internal/jsonrpc"
)

// frame is the minimal duplex the base connector needs from a concrete
// transport: write one encoded JSON-RPC message, and a channel that
// yields each decoded inbound message (or a terminal error) until the
// transport dies.
type frame interface {
	writeMessage(ctx context.Context, msg any) error
	inbound() <-chan inboundMessage
	closeTransport() error
}

type inboundMessage struct {
	envelope *jsonrpc.Envelope
	err      error
}

type pendingCall struct {
	resultCh chan pendingResult
}

type pendingResult struct {
	result json.RawMessage
	err    error
}

// base is embedded by every concrete transport. It owns request id
// allocation, the pending-call correlation map, the event fan-out
// channel, and the read-loop that demultiplexes responses from
// notifications.
type base struct {
	name   string
	logger *slog.Logger

	idgen jsonrpc.IDGenerator

	mu      sync.Mutex
	pending map[string]*pendingCall
	status  Status
	closed  bool

	events chan Event

	transport frame
	stopLoop  chan struct{}
	loopOnce  sync.Once
}

func newBase(name string, logger *slog.Logger) *base {
	if logger == nil {
		logger = slog.Default()
	}
	return &base{
		name:     name,
		logger:   logger,
		pending:  make(map[string]*pendingCall),
		status:   StatusDisconnected,
		events:   make(chan Event, 32),
		stopLoop: make(chan struct{}),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) Events() <-chan Event { return b.events }

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// attach wires a concrete transport's frame into the base and starts
// its read loop. Called once by each transport's Connect before the
// initialize handshake, which itself runs over the attached frame.
func (b *base) attach(t frame) {
	b.mu.Lock()
	b.transport = t
	b.status = StatusConnected
	b.mu.Unlock()

	go b.readLoop(t)
}

func (b *base) readLoop(t frame) {
	for {
		select {
		case <-b.stopLoop:
			return
		case msg, ok := <-t.inbound():
			if !ok {
				b.handleDisconnect(nil)
				return
			}
			if msg.err != nil {
				b.handleDisconnect(msg.err)
				return
			}
			b.dispatch(msg.envelope)
		}
	}
}

func (b *base) dispatch(env *jsonrpc.Envelope) {
	if env.IsResponse() {
		b.resolve(env)
		return
	}
	if env.Method == "" {
		return
	}
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: env.ID, Method: env.Method, Params: env.Params}
	if req.IsNotification() {
		b.emit(Event{Notification: req})
		return
	}
	// Upstream-initiated requests (sampling, elicitation, roots) are
	// outside this proxy's scope; surfaced as a best-effort notification
	// so a caller can at least observe and log them.
	b.emit(Event{Notification: req})
}

func (b *base) resolve(env *jsonrpc.Envelope) {
	key := string(env.ID)
	b.mu.Lock()
	call, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if env.Error != nil {
		call.resultCh <- pendingResult{err: env.Error}
		return
	}
	call.resultCh <- pendingResult{result: env.Result}
}

func (b *base) handleDisconnect(err error) {
	b.mu.Lock()
	if b.status == StatusDisconnected {
		b.mu.Unlock()
		return
	}
	b.status = StatusError
	pending := b.pending
	b.pending = make(map[string]*pendingCall)
	b.mu.Unlock()

	for _, call := range pending {
		call.resultCh <- pendingResult{err: ErrClosed}
	}
	b.emit(Event{Disconnected: true, Err: err})
}

func (b *base) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("dropping event, subscriber too slow", "upstream", b.name)
	}
}

func (b *base) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.transport == nil {
		b.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := b.idgen.Next()
	call := &pendingCall{resultCh: make(chan pendingResult, 1)}
	b.pending[string(id)] = call
	t := b.transport
	b.mu.Unlock()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		b.dropPending(id)
		return nil, err
	}
	if err := t.writeMessage(ctx, req); err != nil {
		b.dropPending(id)
		return nil, fmt.Errorf("upstream %s: write %s: %w", b.name, method, err)
	}

	select {
	case res := <-call.resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("upstream %s: %s: %w", b.name, method, res.err)
		}
		return res.result, nil
	case <-ctx.Done():
		b.dropPending(id)
		return nil, ctx.Err()
	}
}

func (b *base) dropPending(id jsonrpc.ID) {
	b.mu.Lock()
	delete(b.pending, string(id))
	b.mu.Unlock()
}

func (b *base) notify(ctx context.Context, method string, params any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.transport == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	t := b.transport
	b.mu.Unlock()

	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	return t.writeMessage(ctx, req)
}

func (b *base) close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.status = StatusDisconnected
	t := b.transport
	pending := b.pending
	b.pending = make(map[string]*pendingCall)
	b.mu.Unlock()

	b.loopOnce.Do(func() { close(b.stopLoop) })
	for _, call := range pending {
		call.resultCh <- pendingResult{err: ErrClosed}
	}
	close(b.events)

	if t == nil {
		return nil
	}
	return t.closeTransport()
}
