package matching

import (
	"strings"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Matcher evaluates requests against templates.
type Matcher struct {
	cache *compiledCache
}

// New creates a Matcher with an empty compile cache.
func New() *Matcher {
	return &Matcher{cache: newCompiledCache()}
}

// Matches reports whether candidate satisfies every field of pattern. A nil
// pattern matches everything. Fields absent from the pattern are unconstrained.
func (m *Matcher) Matches(candidate, pattern *model.HTTPRequest) bool {
	if pattern == nil {
		return true
	}
	if candidate == nil {
		candidate = &model.HTTPRequest{}
	}
	opts := pattern.Options()

	if !pattern.Method.IsBlank() && !m.matchString(pattern.Method, candidate.Method.Value, opts.Method, true) {
		return false
	}
	if !pattern.Path.IsBlank() && !m.matchString(pattern.Path, candidate.Path.Value, opts.Path, false) {
		return false
	}
	if pattern.Secure != nil && *pattern.Secure != candidate.IsSecure() {
		return false
	}
	if pattern.KeepAlive != nil && (candidate.KeepAlive == nil || *pattern.KeepAlive != *candidate.KeepAlive) {
		return false
	}
	if !m.matchMultiMap(pattern.QueryStringParameters, candidate.QueryStringParameters, opts.Query, false) {
		return false
	}
	if !m.matchMultiMap(pattern.Headers, candidate.Headers, opts.Headers, true) {
		return false
	}
	if !m.matchCookies(pattern.Cookies, candidate.Cookies, opts.Cookies) {
		return false
	}
	if pattern.Body != nil && !m.matchBody(pattern.Body, candidate) {
		return false
	}
	return true
}

// MatchesTemplate reports whether an expectation template is selected by a
// clear or retrieve pattern. The pattern is tried as a candidate request
// against the template; failing that, the two templates are compared for
// field equality so a pattern copied from a stored regex or negated template
// still selects it.
func (m *Matcher) MatchesTemplate(pattern, template *model.HTTPRequest) bool {
	if pattern == nil {
		return true
	}
	if template == nil {
		template = &model.HTTPRequest{}
	}
	if m.Matches(pattern, template) {
		return true
	}
	return sameTemplate(pattern, template)
}

// matchString compares a candidate value with a possibly negated template
// value. In regex mode an exact match also counts.
func (m *Matcher) matchString(tmpl model.NottableString, candidate string, mt model.MatchType, fold bool) bool {
	return m.compare(tmpl.Value, candidate, mt, fold) != tmpl.Not
}

func (m *Matcher) compare(tmpl, candidate string, mt model.MatchType, fold bool) bool {
	if tmpl == candidate || (fold && strings.EqualFold(tmpl, candidate)) {
		return true
	}
	if mt != model.MatchRegex {
		return false
	}
	if fold {
		tmpl = "(?i)" + tmpl
	}
	re, err := m.cache.regexp(tmpl)
	if err != nil {
		return false
	}
	return re.MatchString(candidate)
}

func sameTemplate(a, b *model.HTTPRequest) bool {
	return a.Method == b.Method && a.Path == b.Path &&
		sameMultiMap(a.Headers, b.Headers) &&
		sameMultiMap(a.QueryStringParameters, b.QueryStringParameters)
}

func sameMultiMap(a, b model.KeyMultiValues) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || len(a[i].Values) != len(b[i].Values) {
			return false
		}
		for j := range a[i].Values {
			if a[i].Values[j] != b[i].Values[j] {
				return false
			}
		}
	}
	return true
}
