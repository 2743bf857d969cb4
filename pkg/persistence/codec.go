package persistence

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Encode renders expectations as an indented JSON array.
func Encode(exps []*model.Expectation) ([]byte, error) {
	if exps == nil {
		exps = []*model.Expectation{}
	}
	data, err := json.MarshalIndent(exps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode expectations: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses an expectation file. YAML files, chosen by extension, are
// converted to JSON first. Either form may hold one expectation or a list.
func Decode(path string, data []byte) ([]*model.Expectation, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		converted, err := json.Marshal(jsonCompatible(doc))
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", path, err)
		}
		data = converted
	}
	exps, err := model.ParseExpectations(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return exps, nil
}

// jsonCompatible turns YAML maps with non-string keys into string-keyed maps.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	default:
		return v
	}
}
