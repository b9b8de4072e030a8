// Package config loads and validates the upstream configuration file:
// a JSON document mapping upstream names to stdio, SSE, or
// streamable-HTTP connection parameters.
package config

import (
	"encoding/json"
	"fmt"
)

// Transport identifies which connector variant an upstream uses.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
	// TransportAuto marks a URL-bearing upstream whose variant tag was
	// omitted; the manager probes for the concrete transport at connect
	// time.
	TransportAuto Transport = "auto"
)

// Upstream is one entry of the mcpServers map, normalized from the raw
// JSON document into one of the stdio, SSE, or streamable-HTTP variants.
type Upstream struct {
	Name      string
	Transport Transport

	// stdio fields
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string

	// sse / streamable-http fields
	URL     string
	Headers map[string]string
}

// Fingerprint returns a canonical byte representation of the upstream
// configuration, used by the manager to detect whether a configuration
// revision actually changed a given upstream. encoding/json sorts map
// keys, so two logically identical configs always fingerprint
// identically regardless of field ordering in the source document.
func (u Upstream) Fingerprint() []byte {
	b, err := json.Marshal(u)
	if err != nil {
		// Upstream only contains marshalable scalar/map/slice fields;
		// this cannot fail in practice.
		panic(fmt.Sprintf("config: fingerprint upstream %q: %v", u.Name, err))
	}
	return b
}

// Set is an immutable configuration revision: upstream name -> config.
type Set map[string]Upstream

// Diff computes three reconciliation sets between s and next: added (in
// next, not in s), removed (in s, not in next), and updated (in both,
// with a different Fingerprint).
func (s Set) Diff(next Set) (added, removed, updated []string) {
	for name := range next {
		if _, ok := s[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range s {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name, cur := range s {
		nu, ok := next[name]
		if !ok {
			continue
		}
		if string(cur.Fingerprint()) != string(nu.Fingerprint()) {
			updated = append(updated, name)
		}
	}
	return added, removed, updated
}
