// Package gateway implements the downstream-facing side of the proxy:
// a JSON-RPC router over the fused capability registry, and the
// session layer and HTTP surface that expose it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/slzcdhd/1mcp/internal/apperr"
	"github.com/slzcdhd/1mcp/pkg/registry"
	"github.com/slzcdhd/1mcp/pkg/upstream"
)

// connectorLookup is the slice of *upstream.Manager the router needs.
// Expressed as an interface so tests can stand in a fake manager
// without spinning up real connectors.
type connectorLookup interface {
	Connector(name string) (upstream.Connector, bool)
}

// Router dispatches the seven downstream-facing MCP methods (the four
// list methods, tools/call, resources/read, prompts/get) against the
// fused registry, forwarding each resolved call to its owning
// upstream's connector.
type Router struct {
	registry *registry.Registry
	manager  connectorLookup
	logger   *slog.Logger
}

// New builds a Router over reg and manager. A nil logger falls back to
// slog.Default.
func New(reg *registry.Registry, manager connectorLookup, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: reg, manager: manager, logger: logger}
}

// connectorFor resolves upstreamName to its live connector. A missing
// or disconnected upstream is reported as notFound, indistinguishable
// from an unknown capability, so a downstream client can't tell an
// outage from a name that was never registered.
func (r *Router) connectorFor(upstreamName string) (upstream.Connector, error) {
	conn, ok := r.manager.Connector(upstreamName)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "capability not found or server unavailable")
	}
	return conn, nil
}

// ListTools returns every tool currently registered, under its
// prefixed name.
func (r *Router) ListTools(ctx context.Context) (json.RawMessage, error) {
	tools := r.registry.GetAllTools()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.PrefixedName,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return json.Marshal(map[string]any{"tools": out})
}

// ListResources returns every resource currently registered.
func (r *Router) ListResources(ctx context.Context) (json.RawMessage, error) {
	resources := r.registry.GetAllResources()
	out := make([]map[string]any, 0, len(resources))
	for _, res := range resources {
		out = append(out, map[string]any{
			"uri":         res.PrefixedURI,
			"name":        res.Name,
			"description": res.Description,
			"mimeType":    res.MimeType,
		})
	}
	return json.Marshal(map[string]any{"resources": out})
}

// ListResourceTemplates returns every resource template currently registered.
func (r *Router) ListResourceTemplates(ctx context.Context) (json.RawMessage, error) {
	templates := r.registry.GetAllResourceTemplates()
	out := make([]map[string]any, 0, len(templates))
	for _, rt := range templates {
		out = append(out, map[string]any{
			"uriTemplate": rt.PrefixedURITemplate,
			"name":        rt.Name,
			"description": rt.Description,
			"mimeType":    rt.MimeType,
		})
	}
	return json.Marshal(map[string]any{"resourceTemplates": out})
}

// ListPrompts returns every prompt currently registered.
func (r *Router) ListPrompts(ctx context.Context) (json.RawMessage, error) {
	prompts := r.registry.GetAllPrompts()
	out := make([]map[string]any, 0, len(prompts))
	for _, p := range prompts {
		args := make([]map[string]any, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, map[string]any{"name": a.Name, "description": a.Description, "required": a.Required})
		}
		out = append(out, map[string]any{
			"name":        p.PrefixedName,
			"description": p.Description,
			"arguments":   args,
		})
	}
	return json.Marshal(map[string]any{"prompts": out})
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallTool resolves name's owning upstream and forwards the call,
// rewriting the name back to its original, unprefixed form. A tool
// that cannot be resolved or reached, and an upstream that returns an
// error, both surface as a successful isError result rather than a
// JSON-RPC error, so MCP clients that only inspect isError still see
// the failure.
func (r *Router) CallTool(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var params callToolParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Name == "" {
		return nil, apperr.New(apperr.KindInvalidParams, "tools/call requires a \"name\"")
	}
	tool, ok := r.registry.GetTool(params.Name)
	if !ok {
		return toolErrorResult(fmt.Sprintf("tool %q not found or server unavailable", params.Name)), nil
	}
	conn, ok := r.manager.Connector(tool.Upstream)
	if !ok {
		return toolErrorResult(fmt.Sprintf("tool %q not found or server unavailable", params.Name)), nil
	}
	result, err := conn.Call(ctx, "tools/call", map[string]any{"name": tool.Name, "arguments": params.Arguments})
	if err != nil {
		return toolErrorResult(fmt.Sprintf("Upstream error: %v", err)), nil
	}
	return wrapToolResult(result), nil
}

// toolErrorResult builds a successful tools/call result carrying
// isError:true, the shape MCP clients inspect instead of a JSON-RPC
// error envelope.
func toolErrorResult(text string) json.RawMessage {
	out, _ := json.Marshal(map[string]any{
		"isError": true,
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	return out
}

// wrapToolResult passes an upstream tools/call reply through verbatim
// if it already carries a content array; otherwise it wraps the raw
// JSON result in a single text content entry.
func wrapToolResult(raw json.RawMessage) json.RawMessage {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err == nil {
		if content, ok := generic["content"]; ok && string(content) != "null" {
			return raw
		}
	}
	wrapped, _ := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(raw)}},
	})
	return wrapped
}

type getPromptParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// GetPrompt resolves name's owning upstream and forwards prompts/get.
func (r *Router) GetPrompt(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var params getPromptParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Name == "" {
		return nil, apperr.New(apperr.KindInvalidParams, "prompts/get requires a \"name\"")
	}
	prompt, ok := r.registry.GetPrompt(params.Name)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("prompt %q not found", params.Name))
	}
	conn, err := r.connectorFor(prompt.Upstream)
	if err != nil {
		return nil, err
	}
	result, err := conn.Call(ctx, "prompts/get", map[string]any{"name": prompt.Name, "arguments": params.Arguments})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, fmt.Sprintf("prompts/get %q", params.Name), err)
	}
	return result, nil
}

type readResourceParams struct {
	URI string `json:"uri"`
}

// ReadResource resolves uri against a concrete registered resource
// first, then against a resource template (RFC 6570 expansion) before
// giving up, mirroring how a downstream client may read either a
// resource it saw in resources/list or one it built from a template.
func (r *Router) ReadResource(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var params readResourceParams
	if err := json.Unmarshal(raw, &params); err != nil || params.URI == "" {
		return nil, apperr.New(apperr.KindInvalidParams, "resources/read requires a \"uri\"")
	}

	if res, ok := r.registry.GetResource(params.URI); ok {
		return r.forwardResourceRead(ctx, res.Upstream, res.URI, res.PrefixedURI)
	}

	if match, ok := r.registry.MatchResourceTemplate(params.URI); ok {
		_, originalURI, ok := registry.RemovePrefix(params.URI)
		if !ok {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("resource %q not found", params.URI))
		}
		return r.forwardResourceRead(ctx, match.Template.Upstream, originalURI, params.URI)
	}

	return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("resource %q not found", params.URI))
}

func (r *Router) forwardResourceRead(ctx context.Context, upstreamName, originalURI, prefixedURI string) (json.RawMessage, error) {
	conn, err := r.connectorFor(upstreamName)
	if err != nil {
		return nil, err
	}
	result, err := conn.Call(ctx, "resources/read", map[string]any{"uri": originalURI})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, fmt.Sprintf("resources/read %q", originalURI), err)
	}
	return wrapResourceResult(result, prefixedURI), nil
}

// wrapResourceResult passes an upstream resources/read reply through
// verbatim if it already carries a contents array; otherwise it wraps
// the raw JSON result in a single text content item keyed by the
// prefixed URI the downstream client knows it by.
func wrapResourceResult(raw json.RawMessage, prefixedURI string) json.RawMessage {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err == nil {
		if contents, ok := generic["contents"]; ok && string(contents) != "null" {
			return raw
		}
	}
	wrapped, _ := json.Marshal(map[string]any{
		"contents": []map[string]any{{"uri": prefixedURI, "text": string(raw)}},
	})
	return wrapped
}
