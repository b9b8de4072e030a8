// Package upstream implements the connector and connection-manager
// layer: one Connector per configured MCP server, each speaking
// stdio, SSE, or streamable-HTTP, all exposing the same send/receive
// surface so the manager and the registry never need to know which
// transport a given upstream uses.
package upstream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/slzcdhd/1mcp/internal/jsonrpc"
)

// Status is the lifecycle state of a single upstream connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ErrClosed is returned by Call/Notify once a connector has been
// closed, and is delivered (wrapped) to calls still in flight when the
// connection is lost.
var ErrClosed = errors.New("upstream: connector closed")

// ErrNotConnected is returned by Call/Notify before a connector has
// completed its first connect.
var ErrNotConnected = errors.New("upstream: not connected")

// Event is pushed to a Connector's event channel whenever the upstream
// sends something the manager needs to react to rather than a direct
// call reply: an unsolicited notification, or a transport-level
// disconnect.
type Event struct {
	// Notification is set when the upstream sent a JSON-RPC
	// notification (no id). Method/Params mirror the wire message.
	Notification *jsonrpc.Request
	// Disconnected is set when the transport died; Err carries the
	// cause, if any. A requested Close does not publish this event.
	Disconnected bool
	Err          error
}

// Connector is the minimal surface every transport variant implements.
// The manager drives Connect/Close; discovery and routing drive Call.
type Connector interface {
	// Name is the configured upstream name this connector serves.
	Name() string

	// Connect performs the transport handshake (process spawn, HTTP
	// probe, SSE subscribe, ...) followed by the MCP initialize/
	// initialized exchange. It blocks until the upstream is ready to
	// serve calls or the context is done.
	Connect(ctx context.Context) error

	// Call sends a JSON-RPC request and waits for its matching
	// response, or for ctx to be done.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a JSON-RPC notification (no reply expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns the channel this connector publishes Events on.
	// It is closed by Close, without a Disconnected event being sent.
	Events() <-chan Event

	// Status reports the connector's current lifecycle state.
	Status() Status

	// Close tears down the transport. It is safe to call more than
	// once and safe to call concurrently with Call/Notify.
	Close() error
}
