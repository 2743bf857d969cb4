package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// BodyType identifies how a body is matched or rendered.
type BodyType string

// Body types.
const (
	BodyString     BodyType = "STRING"
	BodyBinary     BodyType = "BINARY"
	BodyJSON       BodyType = "JSON"
	BodyJSONSchema BodyType = "JSON_SCHEMA"
	BodyJSONPath   BodyType = "JSON_PATH"
	BodyRegex      BodyType = "REGEX"
	BodyXML        BodyType = "XML"
	BodyXPath      BodyType = "XPATH"
	BodyXMLSchema  BodyType = "XML_SCHEMA"
	BodyParameters BodyType = "PARAMETERS"
)

// JSONMatchType controls JSON body comparison.
type JSONMatchType string

const (
	// JSONOnlyMatchingFields requires template keys to be a subset of the candidate.
	JSONOnlyMatchingFields JSONMatchType = "ONLY_MATCHING_FIELDS"
	// JSONStrict requires identical key sets at every level.
	JSONStrict JSONMatchType = "STRICT"
)

// Body is a tagged union of the supported body kinds. Only the fields
// relevant to Type are populated.
type Body struct {
	Type BodyType `json:"type"`
	Not  bool     `json:"not,omitempty"`

	// STRING
	String    string `json:"string,omitempty"`
	SubString bool   `json:"subString,omitempty"`

	// BINARY, encoded as base64 on the wire.
	Base64Bytes []byte `json:"base64Bytes,omitempty"`

	// JSON
	JSON      json.RawMessage `json:"json,omitempty"`
	MatchType JSONMatchType   `json:"matchType,omitempty"`

	// JSON_SCHEMA
	JSONSchema json.RawMessage `json:"jsonSchema,omitempty"`

	// JSON_PATH
	JSONPath string `json:"jsonPath,omitempty"`

	// REGEX
	Regex string `json:"regex,omitempty"`

	// XML, XPATH, XML_SCHEMA
	XML       string `json:"xml,omitempty"`
	XPath     string `json:"xpath,omitempty"`
	XMLSchema string `json:"xmlSchema,omitempty"`

	// PARAMETERS
	Parameters KeyMultiValues `json:"parameters,omitempty"`

	ContentType string `json:"contentType,omitempty"`
}

// StringBody returns an exact string body.
func StringBody(s string) *Body {
	return &Body{Type: BodyString, String: s}
}

// SubStringBody returns a body that matches when the candidate contains s.
func SubStringBody(s string) *Body {
	return &Body{Type: BodyString, String: s, SubString: true}
}

// BinaryBody returns a raw bytes body.
func BinaryBody(b []byte) *Body {
	return &Body{Type: BodyBinary, Base64Bytes: append([]byte(nil), b...)}
}

// JSONBody returns a JSON body with the given match mode.
func JSONBody(doc string, mode JSONMatchType) *Body {
	return &Body{Type: BodyJSON, JSON: json.RawMessage(doc), MatchType: mode}
}

// JSONSchemaBody returns a body validated against a JSON schema document.
func JSONSchemaBody(schema string) *Body {
	return &Body{Type: BodyJSONSchema, JSONSchema: json.RawMessage(schema)}
}

// JSONPathBody returns a body matched by a JSON path expression.
func JSONPathBody(path string) *Body {
	return &Body{Type: BodyJSONPath, JSONPath: path}
}

// RegexBody returns a body that must fully match the expression.
func RegexBody(expr string) *Body {
	return &Body{Type: BodyRegex, Regex: expr}
}

// XMLBody returns an XML document body.
func XMLBody(doc string) *Body {
	return &Body{Type: BodyXML, XML: doc}
}

// XPathBody returns a body matched by an XPath expression.
func XPathBody(path string) *Body {
	return &Body{Type: BodyXPath, XPath: path}
}

// ParametersBody returns a form-url-encoded body constraint.
func ParametersBody(params ...KeyToMultiValue) *Body {
	return &Body{Type: BodyParameters, Parameters: params}
}

// Negate marks the body as negated and returns it.
func (b *Body) Negate() *Body {
	b.Not = true
	return b
}

// EffectiveMatchType returns the JSON match mode, defaulting to ONLY_MATCHING_FIELDS.
func (b *Body) EffectiveMatchType() JSONMatchType {
	if b.MatchType == "" {
		return JSONOnlyMatchingFields
	}
	return b.MatchType
}

// Bytes renders the body payload as it is written on the wire.
func (b *Body) Bytes() []byte {
	if b == nil {
		return nil
	}
	switch b.Type {
	case BodyBinary:
		return b.Base64Bytes
	case BodyJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, b.JSON); err != nil {
			return []byte(b.JSON)
		}
		return buf.Bytes()
	case BodyJSONSchema:
		return []byte(b.JSONSchema)
	case BodyXML:
		return []byte(b.XML)
	case BodyRegex:
		return []byte(b.Regex)
	case BodyParameters:
		return []byte(b.Parameters.URLValues().Encode())
	default:
		return []byte(b.String)
	}
}

// DefaultContentType returns the content type implied by the body kind.
func (b *Body) DefaultContentType() string {
	if b == nil {
		return ""
	}
	if b.ContentType != "" {
		return b.ContentType
	}
	switch b.Type {
	case BodyJSON:
		return "application/json"
	case BodyXML:
		return "application/xml"
	case BodyBinary:
		return "application/octet-stream"
	case BodyParameters:
		return "application/x-www-form-urlencoded"
	default:
		return ""
	}
}

// Clone performs a deep copy.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	c := *b
	c.Base64Bytes = append([]byte(nil), b.Base64Bytes...)
	c.JSON = append(json.RawMessage(nil), b.JSON...)
	c.JSONSchema = append(json.RawMessage(nil), b.JSONSchema...)
	c.Parameters = b.Parameters.Clone()
	return &c
}

// UnmarshalJSON accepts a typed body object, a bare JSON string (STRING body)
// or a bare JSON object/array without a "type" field (JSON body).
func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Body{Type: BodyString, String: s}
		return nil
	case '[':
		*b = Body{Type: BodyJSON, JSON: append(json.RawMessage(nil), data...)}
		return nil
	case '{':
	default:
		return fmt.Errorf("unsupported body value: %s", truncate(string(data), 64))
	}

	var probe struct {
		Type BodyType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Type == "" {
		*b = Body{Type: BodyJSON, JSON: append(json.RawMessage(nil), data...)}
		return nil
	}

	type bodyAlias Body
	var alias bodyAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*b = Body(alias)

	// JSON and JSON schema documents may arrive as strings holding the document.
	b.JSON = unquoteDocument(b.JSON)
	b.JSONSchema = unquoteDocument(b.JSONSchema)
	return nil
}

// FormValues parses a PARAMETERS candidate body.
func FormValues(body []byte) KeyMultiValues {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	return FromMultiMap(values)
}

func unquoteDocument(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	return json.RawMessage(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
