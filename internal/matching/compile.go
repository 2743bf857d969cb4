package matching

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Compile checks that every pattern in the template can be evaluated and
// warms the cache. It returns a *model.ValidationError for the first field
// that fails.
func (m *Matcher) Compile(tmpl *model.HTTPRequest) error {
	if tmpl == nil {
		return nil
	}
	opts := tmpl.Options()

	check := func(field string, mt model.MatchType, values ...model.NottableString) error {
		if mt != model.MatchRegex {
			return nil
		}
		for _, v := range values {
			if _, err := m.cache.regexp(v.Value); err != nil {
				return invalid(field, "invalid regex %q: %v", v.Value, err)
			}
		}
		return nil
	}

	if err := check("httpRequest.method", opts.Method, tmpl.Method); err != nil {
		return err
	}
	if err := check("httpRequest.path", opts.Path, tmpl.Path); err != nil {
		return err
	}
	for _, e := range tmpl.Headers {
		if err := check("httpRequest.headers", opts.Headers, append([]model.NottableString{e.Name}, e.Values...)...); err != nil {
			return err
		}
	}
	for _, e := range tmpl.QueryStringParameters {
		if err := check("httpRequest.queryStringParameters", opts.Query, append([]model.NottableString{e.Name}, e.Values...)...); err != nil {
			return err
		}
	}
	for _, c := range tmpl.Cookies {
		if err := check("httpRequest.cookies", opts.Cookies, c.Name, c.Value); err != nil {
			return err
		}
	}

	b := tmpl.Body
	if b == nil {
		return nil
	}
	switch b.Type {
	case model.BodyRegex:
		if _, err := m.cache.regexp(b.Regex); err != nil {
			return invalid("httpRequest.body.regex", "invalid regex: %v", err)
		}
	case model.BodyJSONSchema:
		if _, err := m.cache.schema(string(b.JSONSchema)); err != nil {
			return invalid("httpRequest.body.jsonSchema", "invalid schema: %v", err)
		}
	case model.BodyJSONPath:
		if _, err := m.cache.jsonPath(b.JSONPath); err != nil {
			return invalid("httpRequest.body.jsonPath", "invalid JSON path: %v", err)
		}
	case model.BodyXPath:
		if _, err := m.cache.xpath(b.XPath); err != nil {
			return invalid("httpRequest.body.xpath", "invalid XPath: %v", err)
		}
	case model.BodyXML:
		if err := etree.NewDocument().ReadFromString(b.XML); err != nil {
			return invalid("httpRequest.body.xml", "invalid XML: %v", err)
		}
	}
	return nil
}

func invalid(field, format string, args ...interface{}) error {
	return model.ValidationErrors{{Field: field, Message: fmt.Sprintf(format, args...)}}
}
