package registry

import (
	"regexp"

	"github.com/yosida95/uritemplate/v3"
)

// TemplateMatch is the result of resolving a concrete URI against a
// registered resource template.
type TemplateMatch struct {
	Template ResourceTemplate
	Values   uritemplate.Values
}

// MatchResourceTemplate finds a registered resource template whose
// expansion grammar matches uri (the externally visible, prefixed
// form), compiling each template's RFC 6570 pattern into a regexp on
// the fly. Templates are scanned in no defined order, so when several
// match, which one is returned is not defined. A malformed template (one that failed to parse
// when it was discovered upstream) is skipped rather than aborting the
// scan.
func (r *Registry) MatchResourceTemplate(uri string) (TemplateMatch, bool) {
	for _, tpl := range r.GetAllResourceTemplates() {
		parsed, err := uritemplate.New(tpl.PrefixedURITemplate)
		if err != nil {
			continue
		}
		re := parsed.Regexp()
		values, ok := matchValues(re, parsed.Varnames(), uri)
		if !ok {
			continue
		}
		return TemplateMatch{Template: tpl, Values: values}, true
	}
	return TemplateMatch{}, false
}

func matchValues(re *regexp.Regexp, varnames []string, uri string) (uritemplate.Values, bool) {
	names := re.SubexpNames()
	groups := re.FindStringSubmatch(uri)
	if groups == nil {
		return nil, false
	}
	values := uritemplate.Values{}
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		values.Set(name, uritemplate.String(groups[i]))
	}
	if len(values) != len(varnames) {
		// A template with variables the regexp did not capture (e.g. an
		// operator this package can't express as a named group) can't be
		// trusted to round-trip; treat it as a non-match.
		return nil, false
	}
	return values, true
}
