// Package model provides the request, response, body and expectation types
// exchanged over the control plane and evaluated by the matcher.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MatchType selects how a string field is compared.
type MatchType string

const (
	// MatchStrict compares values for exact equality.
	MatchStrict MatchType = "STRICT"
	// MatchRegex treats the template value as a regular expression that must
	// match the whole candidate value.
	MatchRegex MatchType = "REGEX"
)

// NottableString is a string value that can be negated. A negated value
// matches whenever the underlying comparison fails.
type NottableString struct {
	Value string
	Not   bool
}

// String returns a plain string value. A leading "!" marks the value as negated.
func String(value string) NottableString {
	if strings.HasPrefix(value, "!") && len(value) > 1 {
		return NottableString{Value: value[1:], Not: true}
	}
	return NottableString{Value: value}
}

// Not returns a negated string value.
func Not(value string) NottableString {
	return NottableString{Value: value, Not: true}
}

// Strings converts plain values to NottableStrings.
func Strings(values ...string) []NottableString {
	out := make([]NottableString, 0, len(values))
	for _, v := range values {
		out = append(out, String(v))
	}
	return out
}

// IsBlank reports whether the value constrains nothing.
func (n NottableString) IsBlank() bool {
	return n.Value == "" && !n.Not
}

// String renders the value with the "!" prefix when negated.
func (n NottableString) String() string {
	if n.Not {
		return "!" + n.Value
	}
	return n.Value
}

// MarshalJSON writes a plain string for non-negated values and an object
// otherwise. Literal values starting with "!" are written as objects so they
// read back unchanged.
func (n NottableString) MarshalJSON() ([]byte, error) {
	if !n.Not && !strings.HasPrefix(n.Value, "!") {
		return json.Marshal(n.Value)
	}
	return json.Marshal(struct {
		Not   bool   `json:"not"`
		Value string `json:"value"`
	}{Not: n.Not, Value: n.Value})
}

// UnmarshalJSON accepts "value", "!value" or {"not": true, "value": "value"}.
func (n *NottableString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = NottableString{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = String(s)
		return nil
	}

	if data[0] == '{' {
		var obj struct {
			Not   bool   `json:"not"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*n = NottableString{Value: obj.Value, Not: obj.Not}
		return nil
	}

	// Numbers and booleans are accepted as their literal text.
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = NottableString{Value: fmt.Sprint(raw)}
	return nil
}
