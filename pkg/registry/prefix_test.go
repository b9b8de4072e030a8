package registry

import "testing"

func TestPrefixRoundTrip(t *testing.T) {
	cases := []struct {
		upstream, name string
	}{
		{"calc", "add"},
		{"calc", "add___sub"},
		{"my-server_1", "tools/weird.name"},
	}
	for _, tc := range cases {
		prefixed := AddPrefix(tc.upstream, tc.name)
		upstream, name, ok := RemovePrefix(prefixed)
		if !ok {
			t.Fatalf("RemovePrefix(%q) reported no match", prefixed)
		}
		if upstream != tc.upstream || name != tc.name {
			t.Fatalf("RemovePrefix(%q) = (%q, %q), want (%q, %q)", prefixed, upstream, name, tc.upstream, tc.name)
		}
	}
}

func TestRemovePrefixRejectsMalformed(t *testing.T) {
	cases := []string{"", "noseparator", "___missingupstream", "calc___"}
	for _, in := range cases {
		if _, _, ok := RemovePrefix(in); ok {
			t.Fatalf("RemovePrefix(%q) should have failed", in)
		}
	}
}
