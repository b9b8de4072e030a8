package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// prefixSeparator is the three-character separator reserved for
// prefixed capability ids; upstream names must never contain it so
// RemovePrefix's first-occurrence split stays unambiguous.
const prefixSeparator = "___"

type rawDocument struct {
	MCPServers map[string]rawUpstream `json:"mcpServers"`
}

type rawUpstream struct {
	Type    string            `json:"type"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Cwd     string            `json:"cwd"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and normalizes a configuration document already in
// memory, for callers that don't read it from disk (tests, embedded
// defaults).
func Parse(data []byte) (Set, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	if len(doc.MCPServers) == 0 {
		return nil, fmt.Errorf("config: mcpServers must declare at least one upstream")
	}

	set := make(Set, len(doc.MCPServers))
	for name, raw := range doc.MCPServers {
		if err := validateName(name); err != nil {
			return nil, err
		}
		upstream, err := normalize(name, raw)
		if err != nil {
			return nil, err
		}
		set[name] = upstream
	}
	return set, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("config: upstream name must not be empty")
	}
	if strings.Contains(name, prefixSeparator) {
		return fmt.Errorf("config: upstream name %q must not contain %q", name, prefixSeparator)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("config: upstream name %q must match %s", name, namePattern.String())
	}
	return nil
}

func normalize(name string, raw rawUpstream) (Upstream, error) {
	upstream := Upstream{
		Name:    name,
		Command: raw.Command,
		Args:    append([]string(nil), raw.Args...),
		Env:     copyMap(raw.Env),
		Cwd:     raw.Cwd,
		URL:     raw.URL,
		Headers: copyMap(raw.Headers),
	}

	switch Transport(raw.Type) {
	case TransportStdio, "":
		if raw.Type == "" && raw.URL != "" {
			// URL-bearing with no tag: defer to auto-detection rather
			// than forcing stdio.
			upstream.Transport = TransportAuto
			return finishURL(name, upstream)
		}
		upstream.Transport = TransportStdio
		if raw.Command == "" {
			return Upstream{}, fmt.Errorf("config: upstream %q (stdio) requires \"command\"", name)
		}
		return upstream, nil
	case TransportSSE:
		upstream.Transport = TransportSSE
		return finishURL(name, upstream)
	case TransportStreamableHTTP:
		upstream.Transport = TransportStreamableHTTP
		return finishURL(name, upstream)
	default:
		return Upstream{}, fmt.Errorf("config: upstream %q has unknown type %q", name, raw.Type)
	}
}

func finishURL(name string, upstream Upstream) (Upstream, error) {
	if upstream.URL == "" {
		return Upstream{}, fmt.Errorf("config: upstream %q (%s) requires \"url\"", name, upstream.Transport)
	}
	parsed, err := url.Parse(upstream.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Upstream{}, fmt.Errorf("config: upstream %q has invalid url %q", name, upstream.URL)
	}
	return upstream, nil
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
