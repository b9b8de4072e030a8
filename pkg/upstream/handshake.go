package upstream

import "context"

const protocolVersion = "2025-06-18"

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// performHandshake runs the MCP initialize/initialized exchange over
// an already-attached base connection, the same three-message sequence
// every transport variant requires before any other method is valid.
func performHandshake(ctx context.Context, b *base) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "mcp-aggregator", Version: "1.0.0"},
	}
	if _, err := b.call(ctx, "initialize", params); err != nil {
		return err
	}
	return b.notify(ctx, "notifications/initialized", nil)
}
