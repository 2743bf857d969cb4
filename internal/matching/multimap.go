package matching

import "github.com/0x1a0b/mockserver-sub001/pkg/model"

// matchMultiMap applies subset semantics: every template entry must be
// satisfied by the candidate, and candidate entries not named by the
// template are ignored.
//
// A template entry with a negated name is satisfied when no candidate entry
// matches both its name and its values. Otherwise, each positive template
// value needs some candidate value under a matching name, and each negated
// template value forbids every candidate value equal to it. An absent key
// therefore satisfies an entry whose values are all negated.
func (m *Matcher) matchMultiMap(tmpl, candidate model.KeyMultiValues, mt model.MatchType, fold bool) bool {
	for _, entry := range tmpl {
		if !m.matchEntry(entry, candidate, mt, fold) {
			return false
		}
	}
	return true
}

func (m *Matcher) matchEntry(entry model.KeyToMultiValue, candidate model.KeyMultiValues, mt model.MatchType, fold bool) bool {
	var values []string
	found := false
	for _, c := range candidate {
		if m.compare(entry.Name.Value, c.Name.Value, mt, fold) {
			found = true
			for _, v := range c.Values {
				values = append(values, v.Value)
			}
		}
	}

	if entry.Name.Not {
		if !found {
			return true
		}
		if len(entry.Values) == 0 {
			return false
		}
		positive := model.KeyToMultiValue{Name: model.NottableString{Value: entry.Name.Value}, Values: entry.Values}
		return !m.matchEntry(positive, candidate, mt, fold)
	}

	if len(entry.Values) == 0 {
		return found
	}

	for _, tv := range entry.Values {
		if tv.Not {
			for _, v := range values {
				if m.compare(tv.Value, v, mt, false) {
					return false
				}
			}
			continue
		}
		if !m.anyValue(tv.Value, values, mt) {
			return false
		}
	}
	return true
}

func (m *Matcher) anyValue(tmpl string, values []string, mt model.MatchType) bool {
	for _, v := range values {
		if m.compare(tmpl, v, mt, false) {
			return true
		}
	}
	return false
}

// matchCookies applies the same subset rule to single-valued cookies. The
// last cookie with a given name wins.
func (m *Matcher) matchCookies(tmpl, candidate model.KeyValues, mt model.MatchType) bool {
	if len(tmpl) == 0 {
		return true
	}
	latest := make(map[string]string, len(candidate))
	order := make([]string, 0, len(candidate))
	for _, c := range candidate {
		if _, seen := latest[c.Name.Value]; !seen {
			order = append(order, c.Name.Value)
		}
		latest[c.Name.Value] = c.Value.Value
	}
	multi := make(model.KeyMultiValues, 0, len(order))
	for _, name := range order {
		multi = append(multi, model.KeyToMultiValue{
			Name:   model.NottableString{Value: name},
			Values: []model.NottableString{{Value: latest[name]}},
		})
	}

	for _, c := range tmpl {
		entry := model.KeyToMultiValue{Name: c.Name}
		if !c.Value.IsBlank() {
			entry.Values = []model.NottableString{c.Value}
		}
		if !m.matchEntry(entry, multi, mt, false) {
			return false
		}
	}
	return true
}
