package registry

import "testing"

func TestMatchResourceTemplate(t *testing.T) {
	r := New(nil)
	rt := ResourceTemplate{
		Upstream:            "files",
		URITemplate:         "file:///{path}",
		PrefixedURITemplate: AddPrefix("files", "file:///{path}"),
		Name:                "file",
	}
	r.RegisterResourceTemplates("files", []ResourceTemplate{rt})

	match, ok := r.MatchResourceTemplate(AddPrefix("files", "file:///etc/hosts"))
	if !ok {
		t.Fatalf("expected a match for file:///etc/hosts")
	}
	if match.Template.Upstream != "files" {
		t.Fatalf("matched upstream = %q, want files", match.Template.Upstream)
	}
	got := match.Values.Get("path")
	if !got.Valid() || got.String() != "etc/hosts" {
		t.Fatalf("path value = %+v, want etc/hosts", got)
	}
}

func TestMatchResourceTemplateNoMatch(t *testing.T) {
	r := New(nil)
	r.RegisterResourceTemplates("files", []ResourceTemplate{{
		Upstream:            "files",
		URITemplate:         "file:///{path}",
		PrefixedURITemplate: AddPrefix("files", "file:///{path}"),
	}})

	if _, ok := r.MatchResourceTemplate("https://example.com/nope"); ok {
		t.Fatalf("expected no match for an unrelated scheme")
	}
}
