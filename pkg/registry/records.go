package registry

import "github.com/google/jsonschema-go/jsonschema"

// Tool is a capability record for an upstream tool.
type Tool struct {
	Upstream     string
	Name         string // original id as advertised upstream
	PrefixedName string
	Description  string
	InputSchema  *jsonschema.Schema
}

func (t Tool) Prefixed() string { return t.PrefixedName }
func (t Tool) Owner() string    { return t.Upstream }

// Resource is a capability record for an upstream resource. The
// original id is the resource's URI.
type Resource struct {
	Upstream    string
	URI         string
	PrefixedURI string
	Name        string
	Description string
	MimeType    string
}

func (r Resource) Prefixed() string { return r.PrefixedURI }
func (r Resource) Owner() string    { return r.Upstream }

// ResourceTemplate is a capability record for an upstream resource
// template: a URI template (RFC 6570) a downstream client expands
// before issuing a resources/read, rather than a concrete URI.
type ResourceTemplate struct {
	Upstream            string
	URITemplate         string
	PrefixedURITemplate string
	Name                string
	Description         string
	MimeType            string
}

func (rt ResourceTemplate) Prefixed() string { return rt.PrefixedURITemplate }
func (rt ResourceTemplate) Owner() string    { return rt.Upstream }

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// Prompt is a capability record for an upstream prompt.
type Prompt struct {
	Upstream     string
	Name         string
	PrefixedName string
	Description  string
	Arguments    []PromptArgument
}

func (p Prompt) Prefixed() string { return p.PrefixedName }
func (p Prompt) Owner() string    { return p.Upstream }
