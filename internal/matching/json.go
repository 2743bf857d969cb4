package matching

import (
	"bytes"
	"encoding/json"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// matchJSON compares a template document with a candidate body.
//
// ONLY_MATCHING_FIELDS lets the candidate carry extra object keys and
// compares arrays without regard to order. STRICT requires identical key
// sets and array order. Both modes require arrays of equal length.
func matchJSON(tmpl json.RawMessage, body []byte, mode model.JSONMatchType) bool {
	want, err := decodeJSON(tmpl)
	if err != nil {
		return false
	}
	got, err := decodeJSON(body)
	if err != nil {
		return false
	}
	return jsonEqual(want, got, mode == model.JSONStrict)
}

func decodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func jsonEqual(want, got interface{}, strict bool) bool {
	switch w := want.(type) {
	case map[string]interface{}:
		g, ok := got.(map[string]interface{})
		if !ok {
			return false
		}
		if strict && len(w) != len(g) {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok || !jsonEqual(wv, gv, strict) {
				return false
			}
		}
		return true
	case []interface{}:
		g, ok := got.([]interface{})
		if !ok || len(w) != len(g) {
			return false
		}
		if strict {
			for i := range w {
				if !jsonEqual(w[i], g[i], strict) {
					return false
				}
			}
			return true
		}
		return unorderedMatch(w, g)
	case json.Number:
		g, ok := got.(json.Number)
		if !ok {
			return false
		}
		if w == g {
			return true
		}
		wf, err1 := w.Float64()
		gf, err2 := g.Float64()
		return err1 == nil && err2 == nil && wf == gf
	default:
		return want == got
	}
}

// unorderedMatch pairs every template element with a distinct candidate
// element using augmenting paths.
func unorderedMatch(want, got []interface{}) bool {
	owner := make([]int, len(got))
	for i := range owner {
		owner[i] = -1
	}

	var try func(i int, seen []bool) bool
	try = func(i int, seen []bool) bool {
		for j := range got {
			if seen[j] || !jsonEqual(want[i], got[j], false) {
				continue
			}
			seen[j] = true
			if owner[j] < 0 || try(owner[j], seen) {
				owner[j] = i
				return true
			}
		}
		return false
	}

	for i := range want {
		if !try(i, make([]bool, len(got))) {
			return false
		}
	}
	return true
}
