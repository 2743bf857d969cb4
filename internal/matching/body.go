package matching

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/beevik/etree"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// matchBody dispatches on the template body type. The Not flag inverts the
// outcome of the underlying comparison.
func (m *Matcher) matchBody(tmpl *model.Body, candidate *model.HTTPRequest) bool {
	return m.bodyMatches(tmpl, candidate.BodyBytes()) != tmpl.Not
}

func (m *Matcher) bodyMatches(tmpl *model.Body, body []byte) bool {
	switch tmpl.Type {
	case model.BodyString, "":
		if tmpl.SubString {
			return strings.Contains(string(body), tmpl.String)
		}
		return string(body) == tmpl.String
	case model.BodyBinary:
		return bytes.Equal(body, tmpl.Base64Bytes)
	case model.BodyJSON:
		return matchJSON(tmpl.JSON, body, tmpl.EffectiveMatchType())
	case model.BodyJSONSchema:
		return m.matchJSONSchema(string(tmpl.JSONSchema), body)
	case model.BodyJSONPath:
		return m.matchJSONPath(tmpl.JSONPath, body)
	case model.BodyRegex:
		re, err := m.cache.regexp(tmpl.Regex)
		if err != nil {
			return false
		}
		return re.Match(body)
	case model.BodyXML:
		return matchXML(tmpl.XML, body)
	case model.BodyXPath:
		return m.matchXPath(tmpl.XPath, body)
	case model.BodyParameters:
		return m.matchMultiMap(tmpl.Parameters, model.FormValues(body), model.MatchStrict, false)
	default:
		return false
	}
}

func (m *Matcher) matchJSONSchema(schemaDoc string, body []byte) bool {
	schema, err := m.cache.schema(schemaDoc)
	if err != nil {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	return schema.Validate(doc) == nil
}

func (m *Matcher) matchJSONPath(path string, body []byte) bool {
	expr, err := m.cache.jsonPath(path)
	if err != nil {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	return len(expr.Get(doc)) > 0
}

func (m *Matcher) matchXPath(path string, body []byte) bool {
	p, err := m.cache.xpath(path)
	if err != nil {
		return false
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return false
	}
	return len(doc.FindElementsPath(p)) > 0
}
