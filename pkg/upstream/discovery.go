package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/slzcdhd/1mcp/pkg/registry"
)

// Discovered is the full set of capabilities read back from one
// upstream's tools/list, resources/list, resources/templates/list, and
// prompts/list.
type Discovered struct {
	Tools             []registry.Tool
	Resources         []registry.Resource
	ResourceTemplates []registry.ResourceTemplate
	Prompts           []registry.Prompt
}

type wireTool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// emptyToolSchema is the default schema for a tool that advertises
// neither inputSchema nor parameters.
func emptyToolSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

type wireResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

type wireResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

type wirePromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

type wirePrompt struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Arguments   []wirePromptArgument `json:"arguments"`
}

// Discover runs all four list operations against conn concurrently.
// Each category fails independently: an upstream that implements tools
// but not prompts still contributes its tools (spec-level graceful
// degradation for optional capabilities), logged at debug level.
func Discover(ctx context.Context, conn Connector, logger *slog.Logger) (Discovered, error) {
	if logger == nil {
		logger = slog.Default()
	}
	upstream := conn.Name()

	var (
		wg                sync.WaitGroup
		tools             []registry.Tool
		resources         []registry.Resource
		resourceTemplates []registry.ResourceTemplate
		prompts           []registry.Prompt
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		raw, err := conn.Call(ctx, "tools/list", map[string]any{})
		if err != nil {
			logger.Debug("tools/list unavailable", "upstream", upstream, "error", err)
			return
		}
		tools = decodeTools(upstream, raw, logger)
	}()
	go func() {
		defer wg.Done()
		raw, err := conn.Call(ctx, "resources/list", map[string]any{})
		if err != nil {
			logger.Debug("resources/list unavailable", "upstream", upstream, "error", err)
			return
		}
		resources = decodeResources(upstream, raw, logger)
	}()
	go func() {
		defer wg.Done()
		raw, err := conn.Call(ctx, "resources/templates/list", map[string]any{})
		if err != nil {
			logger.Debug("resources/templates/list unavailable", "upstream", upstream, "error", err)
			return
		}
		resourceTemplates = decodeResourceTemplates(upstream, raw, logger)
	}()
	go func() {
		defer wg.Done()
		raw, err := conn.Call(ctx, "prompts/list", map[string]any{})
		if err != nil {
			logger.Debug("prompts/list unavailable", "upstream", upstream, "error", err)
			return
		}
		prompts = decodePrompts(upstream, raw, logger)
	}()
	wg.Wait()

	return Discovered{
		Tools:             tools,
		Resources:         resources,
		ResourceTemplates: resourceTemplates,
		Prompts:           prompts,
	}, nil
}

func decodeTools(upstream string, raw json.RawMessage, logger *slog.Logger) []registry.Tool {
	var body struct {
		Tools []wireTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warn("malformed tools/list result", "upstream", upstream, "error", err)
		return nil
	}
	out := make([]registry.Tool, 0, len(body.Tools))
	for _, t := range body.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = t.Parameters
		}
		if schema == nil {
			schema = emptyToolSchema()
		}
		out = append(out, registry.Tool{
			Upstream:     upstream,
			Name:         t.Name,
			PrefixedName: registry.AddPrefix(upstream, t.Name),
			Description:  t.Description,
			InputSchema:  schema,
		})
	}
	return out
}

func decodeResources(upstream string, raw json.RawMessage, logger *slog.Logger) []registry.Resource {
	var body struct {
		Resources []wireResource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warn("malformed resources/list result", "upstream", upstream, "error", err)
		return nil
	}
	out := make([]registry.Resource, 0, len(body.Resources))
	for _, r := range body.Resources {
		out = append(out, registry.Resource{
			Upstream:    upstream,
			URI:         r.URI,
			PrefixedURI: registry.AddPrefix(upstream, r.URI),
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
	}
	return out
}

func decodeResourceTemplates(upstream string, raw json.RawMessage, logger *slog.Logger) []registry.ResourceTemplate {
	var body struct {
		ResourceTemplates []wireResourceTemplate `json:"resourceTemplates"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warn("malformed resources/templates/list result", "upstream", upstream, "error", err)
		return nil
	}
	out := make([]registry.ResourceTemplate, 0, len(body.ResourceTemplates))
	for _, rt := range body.ResourceTemplates {
		out = append(out, registry.ResourceTemplate{
			Upstream:            upstream,
			URITemplate:         rt.URITemplate,
			PrefixedURITemplate: registry.AddPrefix(upstream, rt.URITemplate),
			Name:                rt.Name,
			Description:         rt.Description,
			MimeType:            rt.MimeType,
		})
	}
	return out
}

func decodePrompts(upstream string, raw json.RawMessage, logger *slog.Logger) []registry.Prompt {
	var body struct {
		Prompts []wirePrompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Warn("malformed prompts/list result", "upstream", upstream, "error", err)
		return nil
	}
	out := make([]registry.Prompt, 0, len(body.Prompts))
	for _, p := range body.Prompts {
		args := make([]registry.PromptArgument, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, registry.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		out = append(out, registry.Prompt{
			Upstream:     upstream,
			Name:         p.Name,
			PrefixedName: registry.AddPrefix(upstream, p.Name),
			Description:  p.Description,
			Arguments:    args,
		})
	}
	return out
}
