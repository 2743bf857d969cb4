package model

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// KeyToMultiValue is a single header or query parameter constraint.
type KeyToMultiValue struct {
	Name   NottableString   `json:"name"`
	Values []NottableString `json:"values,omitempty"`
}

// KeyMultiValues is an ordered list of multi-valued entries, used for headers,
// query parameters and form parameters.
type KeyMultiValues []KeyToMultiValue

// Header builds a single entry from plain strings.
func Header(name string, values ...string) KeyToMultiValue {
	return KeyToMultiValue{Name: String(name), Values: Strings(values...)}
}

// Get returns the non-negated values stored under name. Names compare
// case-insensitively when fold is true.
func (m KeyMultiValues) Get(name string, fold bool) []string {
	var out []string
	for _, e := range m {
		if keyEqual(e.Name.Value, name, fold) {
			for _, v := range e.Values {
				out = append(out, v.Value)
			}
		}
	}
	return out
}

// First returns the first value stored under name, or "".
func (m KeyMultiValues) First(name string, fold bool) string {
	if vs := m.Get(name, fold); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// With returns a copy of the list with name set to the given values,
// replacing any existing entry.
func (m KeyMultiValues) With(name string, fold bool, values ...string) KeyMultiValues {
	out := make(KeyMultiValues, 0, len(m)+1)
	for _, e := range m {
		if !keyEqual(e.Name.Value, name, fold) {
			out = append(out, e)
		}
	}
	return append(out, Header(name, values...))
}

// Without returns a copy of the list with every entry for name removed.
func (m KeyMultiValues) Without(name string, fold bool) KeyMultiValues {
	out := make(KeyMultiValues, 0, len(m))
	for _, e := range m {
		if !keyEqual(e.Name.Value, name, fold) {
			out = append(out, e)
		}
	}
	return out
}

// Clone performs a deep copy.
func (m KeyMultiValues) Clone() KeyMultiValues {
	if m == nil {
		return nil
	}
	out := make(KeyMultiValues, len(m))
	for i, e := range m {
		out[i] = KeyToMultiValue{Name: e.Name, Values: append([]NottableString(nil), e.Values...)}
	}
	return out
}

// HTTPHeader converts the list to an http.Header, skipping negated entries.
func (m KeyMultiValues) HTTPHeader() http.Header {
	h := make(http.Header, len(m))
	for _, e := range m {
		if e.Name.Not {
			continue
		}
		for _, v := range e.Values {
			h.Add(e.Name.Value, v.Value)
		}
	}
	return h
}

// URLValues converts the list to url.Values, skipping negated entries.
func (m KeyMultiValues) URLValues() url.Values {
	q := make(url.Values, len(m))
	for _, e := range m {
		if e.Name.Not {
			continue
		}
		for _, v := range e.Values {
			q.Add(e.Name.Value, v.Value)
		}
	}
	return q
}

// FromMultiMap builds a list from a header/values map with keys sorted.
func FromMultiMap(m map[string][]string) KeyMultiValues {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(KeyMultiValues, 0, len(names))
	for _, name := range names {
		out = append(out, KeyToMultiValue{
			Name:   NottableString{Value: name},
			Values: plainStrings(m[name]),
		})
	}
	return out
}

// UnmarshalJSON accepts either the list form [{"name":..,"values":[..]}] or an
// object form {"name": ["v1", "v2"]} / {"name": "v"}.
func (m *KeyMultiValues) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}

	if data[0] == '[' {
		var list []KeyToMultiValue
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = list
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(KeyMultiValues, 0, len(obj))
	for _, name := range names {
		raw := bytes.TrimSpace(obj[name])
		var values []NottableString
		if len(raw) > 0 && raw[0] == '[' {
			if err := json.Unmarshal(raw, &values); err != nil {
				return err
			}
		} else {
			var v NottableString
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			values = []NottableString{v}
		}
		out = append(out, KeyToMultiValue{Name: String(name), Values: values})
	}
	*m = out
	return nil
}

// KeyAndValue is a single-valued entry, used for cookies.
type KeyAndValue struct {
	Name  NottableString `json:"name"`
	Value NottableString `json:"value"`
}

// KeyValues is an ordered list of single-valued entries.
type KeyValues []KeyAndValue

// Cookie builds a single cookie entry from plain strings.
func Cookie(name, value string) KeyAndValue {
	return KeyAndValue{Name: String(name), Value: String(value)}
}

// Clone returns a copy of the list.
func (m KeyValues) Clone() KeyValues {
	if m == nil {
		return nil
	}
	return append(KeyValues(nil), m...)
}

// UnmarshalJSON accepts either the list form or an object form {"name": "value"}.
func (m *KeyValues) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}

	if data[0] == '[' {
		var list []KeyAndValue
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = list
		return nil
	}

	var obj map[string]NottableString
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(KeyValues, 0, len(obj))
	for _, name := range names {
		out = append(out, KeyAndValue{Name: String(name), Value: obj[name]})
	}
	*m = out
	return nil
}

func keyEqual(a, b string, fold bool) bool {
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func plainStrings(values []string) []NottableString {
	out := make([]NottableString, 0, len(values))
	for _, v := range values {
		out = append(out, NottableString{Value: v})
	}
	return out
}
