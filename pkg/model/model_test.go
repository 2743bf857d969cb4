package model

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNottableString_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want NottableString
	}{
		{name: "plain", in: `"GET"`, want: NottableString{Value: "GET"}},
		{name: "bang prefix", in: `"!GET"`, want: NottableString{Value: "GET", Not: true}},
		{name: "object", in: `{"not":true,"value":"x"}`, want: NottableString{Value: "x", Not: true}},
		{name: "number", in: `42`, want: NottableString{Value: "42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got NottableString
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNottableString_LiteralBangSurvivesJSON(t *testing.T) {
	t.Parallel()

	in := NottableString{Value: "!important"}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out NottableString
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestKeyMultiValues_ObjectForm(t *testing.T) {
	t.Parallel()

	var m KeyMultiValues
	require.NoError(t, json.Unmarshal([]byte(`{"X-B":"2","X-A":["1","3"]}`), &m))

	require.Len(t, m, 2)
	assert.Equal(t, "X-A", m[0].Name.Value)
	assert.Equal(t, []string{"1", "3"}, m.Get("x-a", true))
	assert.Nil(t, m.Get("x-a", false))
	assert.Equal(t, "2", m.First("X-B", false))
}

func TestBody_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantType BodyType
		check    func(t *testing.T, b *Body)
	}{
		{
			name:     "bare string",
			in:       `"hello"`,
			wantType: BodyString,
			check:    func(t *testing.T, b *Body) { assert.Equal(t, "hello", b.String) },
		},
		{
			name:     "bare object",
			in:       `{"a":1}`,
			wantType: BodyJSON,
			check:    func(t *testing.T, b *Body) { assert.JSONEq(t, `{"a":1}`, string(b.JSON)) },
		},
		{
			name:     "typed json as string",
			in:       `{"type":"JSON","json":"{\"a\":1}","matchType":"STRICT"}`,
			wantType: BodyJSON,
			check: func(t *testing.T, b *Body) {
				assert.JSONEq(t, `{"a":1}`, string(b.JSON))
				assert.Equal(t, JSONStrict, b.EffectiveMatchType())
			},
		},
		{
			name:     "binary",
			in:       `{"type":"BINARY","base64Bytes":"AAEC"}`,
			wantType: BodyBinary,
			check:    func(t *testing.T, b *Body) { assert.Equal(t, []byte{0, 1, 2}, b.Bytes()) },
		},
		{
			name:     "negated regex",
			in:       `{"type":"REGEX","regex":"a+","not":true}`,
			wantType: BodyRegex,
			check:    func(t *testing.T, b *Body) { assert.True(t, b.Not) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var b Body
			require.NoError(t, json.Unmarshal([]byte(tt.in), &b))
			assert.Equal(t, tt.wantType, b.Type)
			tt.check(t, &b)
		})
	}
}

func TestTimes(t *testing.T) {
	t.Parallel()

	times := Exactly(2)
	assert.False(t, times.Exhausted())
	assert.False(t, times.Decrement())
	assert.True(t, times.Decrement())
	assert.True(t, times.Exhausted())

	assert.True(t, Exactly(0).Exhausted())
	assert.False(t, Unlimited().Decrement())
	var nilTimes *Times
	assert.False(t, nilTimes.Exhausted())
}

func TestTimeToLive(t *testing.T) {
	t.Parallel()

	now := time.Now()
	ttl := TTL(time.Second)
	assert.False(t, ttl.Expired(now), "not started yet")

	ttl.Start(now)
	assert.False(t, ttl.Expired(now.Add(500*time.Millisecond)))
	assert.True(t, ttl.Expired(now.Add(time.Second)))
	assert.False(t, UnlimitedTTL().Expired(now.Add(24*time.Hour)))
}

func TestExpectation_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		exp     *Expectation
		wantErr string
	}{
		{
			name: "valid response",
			exp:  When(Request().WithPath("/a")).Respond(Response(200)),
		},
		{
			name:    "no action",
			exp:     When(Request()),
			wantErr: "an action is required",
		},
		{
			name: "two actions",
			exp: When(Request()).Respond(Response(200)).
				Forward(&HTTPForward{Host: "example.com"}),
			wantErr: "only one action may be set",
		},
		{
			name:    "xml schema unsupported",
			exp:     When(Request().WithBody(&Body{Type: BodyXMLSchema, XMLSchema: "<xs/>"})).Respond(Response(200)),
			wantErr: "XML_SCHEMA",
		},
		{
			name:    "bad json body",
			exp:     When(Request().WithBody(JSONBody("{", ""))).Respond(Response(200)),
			wantErr: "not valid JSON",
		},
		{
			name: "velocity template",
			exp: &Expectation{
				HTTPRequest:          Request(),
				HTTPResponseTemplate: &HTTPTemplate{TemplateType: TemplateVelocity, Template: "x"},
			},
			wantErr: "not supported",
		},
		{
			name:    "object callback without client",
			exp:     &Expectation{HTTPForwardObjectCallback: &HTTPObjectCallback{}},
			wantErr: "clientId is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.exp.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidExpectation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpectation_CloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := When(Request().WithPath("/a").WithHeader("X", "1")).
		Respond(Response(201).WithBody(StringBody("hi"))).
		WithTimes(Exactly(3))
	c := orig.Clone()

	c.HTTPRequest.Headers[0].Values[0] = String("2")
	c.HTTPResponse.Body.String = "changed"
	c.Times.Decrement()

	assert.Equal(t, "1", orig.HTTPRequest.Header("X"))
	assert.Equal(t, "hi", orig.HTTPResponse.Body.String)
	assert.Equal(t, 3, orig.Times.RemainingTimes)
}

func TestFromHTTPRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodPost, "http://example.com:8080/p?q=1&q=2", strings.NewReader(`{"a":1}`))
	r.Header.Set("Content-Type", "application/json")
	r.AddCookie(&http.Cookie{Name: "session", Value: "abc"})

	req := FromHTTPRequest(r, []byte(`{"a":1}`), false)

	assert.Equal(t, "POST", req.Method.Value)
	assert.Equal(t, "/p", req.Path.Value)
	assert.Equal(t, []string{"1", "2"}, req.QueryStringParameters.Get("q", false))
	assert.Equal(t, "example.com:8080", req.Header("host"))
	require.Len(t, req.Cookies, 1)
	assert.Equal(t, "abc", req.Cookies[0].Value.Value)
	assert.Equal(t, BodyString, req.Body.Type)
	require.NotNil(t, req.SocketAddress)
	assert.Equal(t, 8080, req.SocketAddress.Port)
	assert.Equal(t, "http://example.com:8080/p", req.TargetURL())
}

func TestHTTPResponse_WriteMessage(t *testing.T) {
	t.Parallel()

	override := 99
	resp := Response(201).WithHeader("X-Test", "yes").WithBody(StringBody("hello"))
	resp.ConnectionOptions = &ConnectionOptions{ContentLengthHeaderOverride: &override}

	var sb strings.Builder
	require.NoError(t, resp.WriteMessage(&sb, http.MethodGet, true))
	out := sb.String()

	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 201 Created\r\n"))
	assert.Contains(t, out, "Content-Length: 99\r\n")
	assert.Contains(t, out, "X-Test: yes\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nhello"))
}

func TestHTTPResponse_WriteMessageOmitsBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		method        string
		status        int
		contentLength string
	}{
		{name: "head request", method: http.MethodHead, status: 200, contentLength: "5"},
		{name: "no content", method: http.MethodGet, status: 204},
		{name: "not modified", method: http.MethodGet, status: 304},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var sb strings.Builder
			resp := Response(tt.status).WithBody(StringBody("hello"))
			require.NoError(t, resp.WriteMessage(&sb, tt.method, true))
			out := sb.String()

			assert.True(t, strings.HasSuffix(out, "\r\n\r\n"), "no body after the header block")
			assert.NotContains(t, out, "hello")
			if tt.contentLength != "" {
				assert.Contains(t, out, "Content-Length: "+tt.contentLength+"\r\n")
			} else {
				assert.NotContains(t, out, "Content-Length")
			}
		})
	}
}
