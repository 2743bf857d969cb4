package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

func candidate() *model.HTTPRequest {
	return model.Request().
		WithMethod("POST").
		WithPath("/my/echo").
		WithHeader("Content-Type", "application/json").
		WithHeader("X-Trace", "a", "b").
		WithQuery("page", "2").
		WithCookie("session", "abc").
		WithBody(model.StringBody(`{"a":1,"b":2,"list":[1,2,3]}`))
}

func TestMatcher_Fields(t *testing.T) {
	t.Parallel()

	regex := &model.MatchOptions{Path: model.MatchRegex, Headers: model.MatchRegex}

	tests := []struct {
		name    string
		pattern *model.HTTPRequest
		want    bool
	}{
		{name: "nil pattern", pattern: nil, want: true},
		{name: "empty pattern", pattern: model.Request(), want: true},
		{name: "method", pattern: model.Request().WithMethod("POST"), want: true},
		{name: "method case insensitive", pattern: model.Request().WithMethod("post"), want: true},
		{name: "wrong method", pattern: model.Request().WithMethod("GET"), want: false},
		{name: "negated method", pattern: model.Request().WithMethod("!GET"), want: true},
		{name: "path", pattern: model.Request().WithPath("/my/echo"), want: true},
		{name: "path is not a prefix", pattern: model.Request().WithPath("/my"), want: false},
		{
			name:    "regex path",
			pattern: &model.HTTPRequest{Path: model.String("/my/.*"), MatchOptions: regex},
			want:    true,
		},
		{
			name:    "regex path must match fully",
			pattern: &model.HTTPRequest{Path: model.String("/my"), MatchOptions: regex},
			want:    false,
		},
		{name: "header name is case insensitive", pattern: model.Request().WithHeader("content-type", "application/json"), want: true},
		{name: "header value any of", pattern: model.Request().WithHeader("X-Trace", "b"), want: true},
		{name: "header presence", pattern: model.Request().WithHeader("X-Trace"), want: true},
		{name: "header missing", pattern: model.Request().WithHeader("X-Missing"), want: false},
		{
			name:    "regex header value",
			pattern: &model.HTTPRequest{Headers: model.KeyMultiValues{model.Header("Content-Type", "application/.*")}, MatchOptions: regex},
			want:    true,
		},
		{name: "query", pattern: model.Request().WithQuery("page", "2"), want: true},
		{name: "query names are case sensitive", pattern: model.Request().WithQuery("PAGE", "2"), want: false},
		{name: "cookie", pattern: model.Request().WithCookie("session", "abc"), want: true},
		{name: "wrong cookie", pattern: model.Request().WithCookie("session", "xyz"), want: false},
		{name: "secure flag", pattern: model.Request().WithSecure(true), want: false},
	}

	m := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, m.Matches(candidate(), tt.pattern))
		})
	}
}

func TestMatcher_NegatedHeader(t *testing.T) {
	t.Parallel()

	m := New()
	pattern := &model.HTTPRequest{Headers: model.KeyMultiValues{{
		Name:   model.String("X"),
		Values: []model.NottableString{model.Not("1")},
	}}}

	assert.True(t, m.Matches(model.Request(), pattern), "absent header")
	assert.True(t, m.Matches(model.Request().WithHeader("X", "2"), pattern), "different value")
	assert.False(t, m.Matches(model.Request().WithHeader("X", "1"), pattern), "equal value")

	negatedName := &model.HTTPRequest{Headers: model.KeyMultiValues{{Name: model.Not("X")}}}
	assert.True(t, m.Matches(model.Request().WithHeader("Y", "1"), negatedName))
	assert.False(t, m.Matches(model.Request().WithHeader("X", "1"), negatedName))
}

func TestMatcher_Body(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tmpl *model.Body
		body string
		want bool
	}{
		{name: "exact string", tmpl: model.StringBody("hello"), body: "hello", want: true},
		{name: "exact string mismatch", tmpl: model.StringBody("hello"), body: "hello!", want: false},
		{name: "substring", tmpl: model.SubStringBody("ell"), body: "hello", want: true},
		{name: "negated string", tmpl: model.StringBody("hello").Negate(), body: "bye", want: true},
		{name: "json subset", tmpl: model.JSONBody(`{"a":1}`, ""), body: `{"a":1,"b":2}`, want: true},
		{name: "json strict rejects extra keys", tmpl: model.JSONBody(`{"a":1}`, model.JSONStrict), body: `{"a":1,"b":2}`, want: false},
		{name: "json strict equal", tmpl: model.JSONBody(`{"b":2,"a":1}`, model.JSONStrict), body: `{"a":1,"b":2}`, want: true},
		{name: "json numbers compare by value", tmpl: model.JSONBody(`{"a":1.0}`, ""), body: `{"a":1}`, want: true},
		{name: "json arrays unordered when lenient", tmpl: model.JSONBody(`[3,1,2]`, ""), body: `[1,2,3]`, want: true},
		{name: "json arrays ordered when strict", tmpl: model.JSONBody(`[3,1,2]`, model.JSONStrict), body: `[1,2,3]`, want: false},
		{name: "json arrays same length", tmpl: model.JSONBody(`[1,2]`, ""), body: `[1,2,3]`, want: false},
		{name: "json nested", tmpl: model.JSONBody(`{"o":{"x":[{"k":"v"}]}}`, ""), body: `{"o":{"x":[{"k":"v","z":1}],"y":2}}`, want: true},
		{name: "json invalid candidate", tmpl: model.JSONBody(`{"a":1}`, ""), body: `not json`, want: false},
		{
			name: "json schema",
			tmpl: model.JSONSchemaBody(`{"type":"object","required":["id"],"properties":{"id":{"type":"integer"}}}`),
			body: `{"id":5}`,
			want: true,
		},
		{
			name: "json schema violation",
			tmpl: model.JSONSchemaBody(`{"type":"object","required":["id"]}`),
			body: `{"name":"x"}`,
			want: false,
		},
		{name: "json path", tmpl: model.JSONPathBody(`$.list[2]`), body: `{"list":[1,2,3]}`, want: true},
		{name: "json path no result", tmpl: model.JSONPathBody(`$.missing`), body: `{"list":[1]}`, want: false},
		{name: "regex full match", tmpl: model.RegexBody(`h.*o`), body: "hello", want: true},
		{name: "regex partial is not enough", tmpl: model.RegexBody(`ell`), body: "hello", want: false},
		{name: "xml ignores whitespace", tmpl: model.XMLBody(`<a x="1"><b>t</b></a>`), body: "<a x=\"1\">\n  <b> t </b>\n</a>", want: true},
		{name: "xml attribute differs", tmpl: model.XMLBody(`<a x="1"/>`), body: `<a x="2"/>`, want: false},
		{name: "xpath", tmpl: model.XPathBody(`/root/item[@id='2']`), body: `<root><item id="1"/><item id="2"/></root>`, want: true},
		{name: "xpath missing", tmpl: model.XPathBody(`//nothing`), body: `<root/>`, want: false},
		{name: "binary", tmpl: model.BinaryBody([]byte{1, 2, 3}), body: "\x01\x02\x03", want: true},
		{
			name: "form parameters",
			tmpl: model.ParametersBody(model.Header("name", "bob")),
			body: "name=bob&age=3",
			want: true,
		},
	}

	m := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := model.Request().WithBody(model.StringBody(tt.body))
			assert.Equal(t, tt.want, m.Matches(req, model.Request().WithBody(tt.tmpl)))
		})
	}
}

func TestMatcher_AbsentTemplateBodyMatchesAnything(t *testing.T) {
	t.Parallel()

	m := New()
	assert.True(t, m.Matches(model.Request().WithBody(model.StringBody("x")), model.Request().WithPath("")))
	assert.True(t, m.Matches(model.Request(), model.Request()))
}

func TestMatcher_MatchesTemplate(t *testing.T) {
	t.Parallel()

	m := New()
	tmpl := model.Request().WithMethod("GET").WithPath("/a")

	assert.True(t, m.MatchesTemplate(nil, tmpl))
	assert.True(t, m.MatchesTemplate(model.Request().WithMethod("GET").WithPath("/a"), tmpl))
	assert.False(t, m.MatchesTemplate(model.Request().WithPath("/b"), tmpl))

	regexTmpl := &model.HTTPRequest{Path: model.String("/r/.*"), MatchOptions: &model.MatchOptions{Path: model.MatchRegex}}
	assert.True(t, m.MatchesTemplate(model.Request().WithPath("/r/x"), regexTmpl))
	assert.True(t, m.MatchesTemplate(model.Request().WithPath("/r/.*"), regexTmpl), "identical template")
}

func TestMatcher_Compile(t *testing.T) {
	t.Parallel()

	m := New()
	tests := []struct {
		name    string
		tmpl    *model.HTTPRequest
		wantErr bool
	}{
		{name: "plain", tmpl: model.Request().WithPath("/[")},
		{name: "bad regex path", tmpl: &model.HTTPRequest{Path: model.String("/["), MatchOptions: &model.MatchOptions{Path: model.MatchRegex}}, wantErr: true},
		{name: "bad body regex", tmpl: model.Request().WithBody(model.RegexBody("(")), wantErr: true},
		{name: "bad schema", tmpl: model.Request().WithBody(model.JSONSchemaBody(`{"type":12}`)), wantErr: true},
		{name: "bad json path", tmpl: model.Request().WithBody(model.JSONPathBody("$[")), wantErr: true},
		{name: "good schema", tmpl: model.Request().WithBody(model.JSONSchemaBody(`{"type":"object"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := m.Compile(tt.tmpl)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrInvalidExpectation)
				return
			}
			assert.NoError(t, err)
		})
	}
}
