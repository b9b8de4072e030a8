package config

import "testing"

func TestParseStdioUpstream(t *testing.T) {
	data := []byte(`{
		"mcpServers": {
			"calc": {"command": "./calc-server", "args": ["--serve"], "env": {"FOO": "bar"}}
		}
	}`)
	set, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	calc, ok := set["calc"]
	if !ok {
		t.Fatalf("expected upstream %q", "calc")
	}
	if calc.Transport != TransportStdio {
		t.Fatalf("transport = %s, want stdio", calc.Transport)
	}
	if calc.Command != "./calc-server" || len(calc.Args) != 1 || calc.Args[0] != "--serve" {
		t.Fatalf("unexpected stdio fields: %#v", calc)
	}
	if calc.Env["FOO"] != "bar" {
		t.Fatalf("env not preserved: %#v", calc.Env)
	}
}

func TestParseURLUpstreams(t *testing.T) {
	data := []byte(`{
		"mcpServers": {
			"remote-sse": {"type": "sse", "url": "https://example.com/sse", "headers": {"Authorization": "Bearer x"}},
			"remote-http": {"type": "streamable-http", "url": "https://example.com/mcp"},
			"remote-auto": {"url": "https://example.com/mcp"}
		}
	}`)
	set, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set["remote-sse"].Transport != TransportSSE {
		t.Fatalf("remote-sse transport = %s", set["remote-sse"].Transport)
	}
	if set["remote-http"].Transport != TransportStreamableHTTP {
		t.Fatalf("remote-http transport = %s", set["remote-http"].Transport)
	}
	if set["remote-auto"].Transport != TransportAuto {
		t.Fatalf("remote-auto transport = %s, want auto", set["remote-auto"].Transport)
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"empty servers", `{"mcpServers": {}}`},
		{"bad name chars", `{"mcpServers": {"bad name!": {"command": "x"}}}`},
		{"name contains separator", `{"mcpServers": {"a___b": {"command": "x"}}}`},
		{"unknown type", `{"mcpServers": {"a": {"type": "carrier-pigeon", "url": "https://x"}}}`},
		{"stdio missing command", `{"mcpServers": {"a": {}}}`},
		{"sse missing url", `{"mcpServers": {"a": {"type": "sse"}}}`},
		{"streamable missing url", `{"mcpServers": {"a": {"type": "streamable-http"}}}`},
		{"sse invalid url", `{"mcpServers": {"a": {"type": "sse", "url": "://bad"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.data)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestSetDiff(t *testing.T) {
	a := Set{
		"x": {Name: "x", Transport: TransportStdio, Command: "one"},
		"y": {Name: "y", Transport: TransportStdio, Command: "two"},
	}
	b := Set{
		"y": {Name: "y", Transport: TransportStdio, Command: "two-changed"},
		"z": {Name: "z", Transport: TransportStdio, Command: "three"},
	}
	added, removed, updated := a.Diff(b)
	if len(added) != 1 || added[0] != "z" {
		t.Fatalf("added = %v, want [z]", added)
	}
	if len(removed) != 1 || removed[0] != "x" {
		t.Fatalf("removed = %v, want [x]", removed)
	}
	if len(updated) != 1 || updated[0] != "y" {
		t.Fatalf("updated = %v, want [y]", updated)
	}
}

func TestSetDiffIdenticalIsNotUpdated(t *testing.T) {
	a := Set{"x": {Name: "x", Transport: TransportStdio, Command: "same", Args: []string{"--a"}}}
	b := Set{"x": {Name: "x", Transport: TransportStdio, Command: "same", Args: []string{"--a"}}}
	_, _, updated := a.Diff(b)
	if len(updated) != 0 {
		t.Fatalf("updated = %v, want none", updated)
	}
}
