package registry

import "testing"

func tool(upstream, name string) Tool {
	return Tool{
		Upstream:     upstream,
		Name:         name,
		PrefixedName: AddPrefix(upstream, name),
		Description:  "a test tool",
	}
}

func TestRegisterAndGetAllToolsRoundTrip(t *testing.T) {
	r := New(nil)
	r.RegisterTools("calc", []Tool{tool("calc", "add"), tool("calc", "sub")})

	if got := r.ToolCount(); got != 2 {
		t.Fatalf("ToolCount() = %d, want 2", got)
	}
	for _, want := range []string{"calc___add", "calc___sub"} {
		if _, ok := r.GetTool(want); !ok {
			t.Fatalf("GetTool(%q) missing after registration", want)
		}
	}
	all := r.GetAllTools()
	if len(all) != 2 {
		t.Fatalf("GetAllTools() returned %d tools, want 2", len(all))
	}
}

func TestRegisterToolsIsIdempotent(t *testing.T) {
	r := New(nil)
	tools := []Tool{tool("calc", "add")}
	r.RegisterTools("calc", tools)
	r.RegisterTools("calc", tools)
	if got := r.ToolCount(); got != 1 {
		t.Fatalf("ToolCount() = %d after duplicate register, want 1", got)
	}
}

func TestRegisterToolsReplacesPriorSet(t *testing.T) {
	r := New(nil)
	r.RegisterTools("calc", []Tool{tool("calc", "add"), tool("calc", "sub")})
	r.RegisterTools("calc", []Tool{tool("calc", "mul")})

	if _, ok := r.GetTool("calc___add"); ok {
		t.Fatalf("calc___add should have been dropped by the replace")
	}
	if _, ok := r.GetTool("calc___sub"); ok {
		t.Fatalf("calc___sub should have been dropped by the replace")
	}
	if _, ok := r.GetTool("calc___mul"); !ok {
		t.Fatalf("calc___mul should be present after replace")
	}
	if got := r.ToolCount(); got != 1 {
		t.Fatalf("ToolCount() = %d, want 1", got)
	}
}

func TestRegisterToolsFirstWriterWinsOnCollision(t *testing.T) {
	r := New(nil)
	// Two different upstream names can still mint the same prefixed id if
	// a caller bypasses normal config validation; registration should
	// never let a second upstream steal an id the first upstream already
	// owns for real.
	colliding := Tool{Upstream: "other", Name: "add", PrefixedName: "calc___add"}

	r.RegisterTools("calc", []Tool{tool("calc", "add")})
	r.RegisterTools("other", []Tool{colliding})

	got, ok := r.GetTool("calc___add")
	if !ok {
		t.Fatalf("calc___add should still resolve")
	}
	if got.Upstream != "calc" {
		t.Fatalf("calc___add owner = %q, want %q (first writer wins)", got.Upstream, "calc")
	}
}

func TestClearUpstreamPurgesOnlyThatUpstream(t *testing.T) {
	r := New(nil)
	r.RegisterTools("calc", []Tool{tool("calc", "add")})
	r.RegisterTools("weather", []Tool{tool("weather", "forecast")})

	r.ClearUpstream("calc")

	if _, ok := r.GetTool("calc___add"); ok {
		t.Fatalf("calc___add should be purged")
	}
	if _, ok := r.GetTool("weather___forecast"); !ok {
		t.Fatalf("weather___forecast should survive clearing a different upstream")
	}
	if got := r.ToolCount(); got != 1 {
		t.Fatalf("ToolCount() = %d, want 1", got)
	}
}

func TestClearPurgesEverything(t *testing.T) {
	r := New(nil)
	r.RegisterTools("calc", []Tool{tool("calc", "add")})
	r.RegisterResources("calc", []Resource{{Upstream: "calc", URI: "file:///a", PrefixedURI: AddPrefix("calc", "file:///a")}})
	r.RegisterPrompts("calc", []Prompt{{Upstream: "calc", Name: "greet", PrefixedName: AddPrefix("calc", "greet")}})

	r.Clear()

	snap := r.Snapshot()
	if snap.Tools != 0 || snap.Resources != 0 || snap.Prompts != 0 {
		t.Fatalf("Snapshot() after Clear() = %+v, want all zero", snap)
	}
}

func TestReregisterAfterClearUpstreamRestoresOwnership(t *testing.T) {
	r := New(nil)
	r.RegisterTools("calc", []Tool{tool("calc", "add")})
	r.ClearUpstream("calc")
	r.RegisterTools("calc", []Tool{tool("calc", "add")})

	if got := r.ToolCount(); got != 1 {
		t.Fatalf("ToolCount() = %d, want 1 after re-register", got)
	}
}
