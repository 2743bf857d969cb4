// Package parse provides string parsing utilities for CLI commands.
package parse

import (
	"fmt"
	"strings"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// KeyValue parses a "key:value" or "key=value" string.
// If delimiters are provided, uses the first one found; otherwise defaults to ':'.
// Returns the key, value, and a boolean indicating success.
func KeyValue(s string, delimiters ...rune) (key, value string, ok bool) {
	if len(delimiters) == 0 {
		delimiters = []rune{':'}
	}

	for i, c := range s {
		for _, d := range delimiters {
			if c == d {
				return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
			}
		}
	}
	return "", "", false
}

// Pairs folds repeated "key<delim>value" flags into a multimap. Repeating a
// key adds a value to it.
func Pairs(items []string, delimiter rune) (model.KeyMultiValues, error) {
	var out model.KeyMultiValues
	for _, item := range items {
		key, value, ok := KeyValue(item, delimiter)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid value %q: expected key%cvalue", item, delimiter)
		}
		out = appendValue(out, key, value)
	}
	return out, nil
}

func appendValue(m model.KeyMultiValues, key, value string) model.KeyMultiValues {
	for i := range m {
		if m[i].Name.Value == key {
			m[i].Values = append(m[i].Values, model.String(value))
			return m
		}
	}
	return append(m, model.KeyToMultiValue{Name: model.String(key), Values: []model.NottableString{model.String(value)}})
}
