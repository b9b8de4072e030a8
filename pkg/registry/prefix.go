package registry

import "strings"

// Separator is the three-character delimiter between an upstream name
// and a capability's original id. It is load-bearing: upstream names
// are validated at config load time to never contain it, so the
// *first* occurrence marks the split point even when the original id
// itself contains "___". An upstream name that ends in "_" is the
// exception: the first occurrence then starts inside the name.
const Separator = "___"

// AddPrefix builds the externally visible capability id for a given
// upstream and original id.
func AddPrefix(upstream, name string) string {
	return upstream + Separator + name
}

// RemovePrefix splits a prefixed id back into (upstream, original),
// splitting on the first occurrence of Separator. It reports false if
// either half would be empty, so a malformed or unprefixed id is
// rejected rather than silently misparsed.
func RemovePrefix(prefixed string) (upstream, name string, ok bool) {
	idx := strings.Index(prefixed, Separator)
	if idx <= 0 {
		return "", "", false
	}
	upstream = prefixed[:idx]
	name = prefixed[idx+len(Separator):]
	if name == "" {
		return "", "", false
	}
	return upstream, name, true
}
