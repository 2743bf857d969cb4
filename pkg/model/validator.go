package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidExpectation is wrapped by every expectation validation failure.
var ErrInvalidExpectation = errors.New("invalid expectation")

// ValidationError represents a validation failure with context.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one expectation.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ve := range e {
		msgs = append(msgs, ve.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is find ErrInvalidExpectation.
func (e ValidationErrors) Unwrap() error {
	return ErrInvalidExpectation
}

// headerNameRegex validates HTTP header names (RFC 7230).
var headerNameRegex = regexp.MustCompile(`^[A-Za-z0-9!#$%&'*+\-.^_\x60|~]+$`)

// Validate checks the expectation's structure. Matcher-specific checks such
// as schema compilation happen when the expectation is stored.
func (e *Expectation) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if n := e.actionCount(); n == 0 {
		add("action", "an action is required")
	} else if n > 1 {
		add("action", "only one action may be set, found %d", n)
	}

	if e.Times != nil && !e.Times.Unlimited && e.Times.RemainingTimes < 0 {
		add("times.remainingTimes", "must not be negative")
	}
	if ttl := e.TimeToLive; ttl != nil && !ttl.Unlimited {
		if !ttl.TimeUnit.Valid() {
			add("timeToLive.timeUnit", "unknown time unit %q", ttl.TimeUnit)
		}
		if ttl.TimeToLive < 0 {
			add("timeToLive.timeToLive", "must not be negative")
		}
	}

	if e.HTTPRequest != nil {
		e.HTTPRequest.validate("httpRequest", add)
	}

	if r := e.HTTPResponse; r != nil {
		if r.StatusCode != 0 && (r.StatusCode < 100 || r.StatusCode > 999) {
			add("httpResponse.statusCode", "invalid status code %d", r.StatusCode)
		}
		for _, h := range r.Headers {
			if !headerNameRegex.MatchString(h.Name.Value) {
				add("httpResponse.headers", "invalid header name %q", h.Name.Value)
			}
		}
		validateDelay("httpResponse.delay", r.Delay, add)
	}
	if f := e.HTTPForward; f != nil {
		if f.Host == "" {
			add("httpForward.host", "host is required")
		}
		if f.Port < 0 || f.Port > 65535 {
			add("httpForward.port", "invalid port %d", f.Port)
		}
		validateScheme("httpForward.scheme", f.Scheme, add)
	}
	for field, t := range map[string]*HTTPTemplate{
		"httpResponseTemplate": e.HTTPResponseTemplate,
		"httpForwardTemplate":  e.HTTPForwardTemplate,
	} {
		if t == nil {
			continue
		}
		switch t.TemplateType {
		case TemplateExpr:
		case TemplateJavaScript, TemplateVelocity:
			add(field+".templateType", "template type %s is not supported, use %s", t.TemplateType, TemplateExpr)
		default:
			add(field+".templateType", "unknown template type %q", t.TemplateType)
		}
		if strings.TrimSpace(t.Template) == "" {
			add(field+".template", "template is required")
		}
	}
	for field, cb := range map[string]*HTTPClassCallback{
		"httpResponseClassCallback": e.HTTPResponseClassCallback,
		"httpForwardClassCallback":  e.HTTPForwardClassCallback,
	} {
		if cb != nil && cb.CallbackClass == "" {
			add(field+".callbackClass", "callbackClass is required")
		}
	}
	for field, cb := range map[string]*HTTPObjectCallback{
		"httpResponseObjectCallback": e.HTTPResponseObjectCallback,
		"httpForwardObjectCallback":  e.HTTPForwardObjectCallback,
	} {
		if cb != nil && cb.ClientID == "" {
			add(field+".clientId", "clientId is required")
		}
	}
	if o := e.HTTPOverrideForwardedRequest; o != nil && o.HTTPRequest == nil {
		add("httpOverrideForwardedRequest.httpRequest", "httpRequest is required")
	}
	if he := e.HTTPError; he != nil && !he.DropConnection && len(he.ResponseBytes) == 0 {
		add("httpError", "set dropConnection or responseBytes")
	}

	if len(errs) == 0 {
		return nil
	}
	sortErrors(errs)
	return errs
}

func (r *HTTPRequest) validate(prefix string, add func(field, format string, args ...interface{})) {
	opts := r.Options()
	for field, mt := range map[string]MatchType{
		"method": opts.Method, "path": opts.Path, "headers": opts.Headers,
		"queryStringParameters": opts.Query, "cookies": opts.Cookies,
	} {
		if mt != "" && mt != MatchStrict && mt != MatchRegex {
			add(prefix+".matchOptions."+field, "unknown match type %q", mt)
		}
	}

	if b := r.Body; b != nil {
		switch b.Type {
		case BodyString, BodyBinary, BodyJSONPath, BodyRegex, BodyXML, BodyXPath, BodyParameters:
		case BodyJSON:
			if !json.Valid(b.JSON) {
				add(prefix+".body.json", "body is not valid JSON")
			}
			if mt := b.MatchType; mt != "" && mt != JSONStrict && mt != JSONOnlyMatchingFields {
				add(prefix+".body.matchType", "unknown JSON match type %q", mt)
			}
		case BodyJSONSchema:
			if !json.Valid(b.JSONSchema) {
				add(prefix+".body.jsonSchema", "schema is not valid JSON")
			}
		case BodyXMLSchema:
			add(prefix+".body.type", "XML_SCHEMA bodies are not supported")
		default:
			add(prefix+".body.type", "unknown body type %q", b.Type)
		}
	}
	if sa := r.SocketAddress; sa != nil {
		validateScheme(prefix+".socketAddress.scheme", sa.Scheme, add)
	}
}

func validateScheme(field string, s Scheme, add func(field, format string, args ...interface{})) {
	if s != "" && s != SchemeHTTP && s != SchemeHTTPS {
		add(field, "unknown scheme %q", s)
	}
}

func validateDelay(field string, d *Delay, add func(field, format string, args ...interface{})) {
	if d == nil {
		return
	}
	if !d.TimeUnit.Valid() {
		add(field+".timeUnit", "unknown time unit %q", d.TimeUnit)
	}
	if d.Value < 0 {
		add(field+".value", "must not be negative")
	}
}

func (e *Expectation) actionCount() int {
	n := 0
	for _, set := range []bool{
		e.HTTPResponse != nil,
		e.HTTPResponseTemplate != nil,
		e.HTTPResponseClassCallback != nil,
		e.HTTPResponseObjectCallback != nil,
		e.HTTPForward != nil,
		e.HTTPForwardTemplate != nil,
		e.HTTPForwardClassCallback != nil,
		e.HTTPForwardObjectCallback != nil,
		e.HTTPOverrideForwardedRequest != nil,
		e.HTTPError != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// sortErrors orders errors by field so messages are stable across map iteration.
func sortErrors(errs ValidationErrors) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
}
