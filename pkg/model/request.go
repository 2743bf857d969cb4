package model

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CorrelationIDHeader carries the callback correlation ID on requests and
// responses exchanged with websocket callback clients.
const CorrelationIDHeader = "WebSocketCorrelationId"

// MatchOptions selects exact or regex comparison per request field. Unset
// fields compare exactly.
type MatchOptions struct {
	Method  MatchType `json:"method,omitempty"`
	Path    MatchType `json:"path,omitempty"`
	Headers MatchType `json:"headers,omitempty"`
	Query   MatchType `json:"queryStringParameters,omitempty"`
	Cookies MatchType `json:"cookies,omitempty"`
}

// SocketAddress names the upstream a request should be sent to.
type SocketAddress struct {
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
	Scheme Scheme `json:"scheme,omitempty"`
}

// Scheme is HTTP or HTTPS.
type Scheme string

// Schemes.
const (
	SchemeHTTP  Scheme = "HTTP"
	SchemeHTTPS Scheme = "HTTPS"
)

// HTTPRequest is both a request-matching template and a captured request.
type HTTPRequest struct {
	Method                NottableString `json:"method,omitempty"`
	Path                  NottableString `json:"path,omitempty"`
	QueryStringParameters KeyMultiValues `json:"queryStringParameters,omitempty"`
	Headers               KeyMultiValues `json:"headers,omitempty"`
	Cookies               KeyValues      `json:"cookies,omitempty"`
	Body                  *Body          `json:"body,omitempty"`
	Secure                *bool          `json:"secure,omitempty"`
	KeepAlive             *bool          `json:"keepAlive,omitempty"`
	SocketAddress         *SocketAddress `json:"socketAddress,omitempty"`
	MatchOptions          *MatchOptions  `json:"matchOptions,omitempty"`
}

// Request starts a request template.
func Request() *HTTPRequest {
	return &HTTPRequest{}
}

// WithMethod sets the method.
func (r *HTTPRequest) WithMethod(method string) *HTTPRequest {
	r.Method = String(method)
	return r
}

// WithPath sets the path.
func (r *HTTPRequest) WithPath(path string) *HTTPRequest {
	r.Path = String(path)
	return r
}

// WithHeader adds a header entry.
func (r *HTTPRequest) WithHeader(name string, values ...string) *HTTPRequest {
	r.Headers = append(r.Headers, Header(name, values...))
	return r
}

// WithQuery adds a query parameter entry.
func (r *HTTPRequest) WithQuery(name string, values ...string) *HTTPRequest {
	r.QueryStringParameters = append(r.QueryStringParameters, Header(name, values...))
	return r
}

// WithCookie adds a cookie entry.
func (r *HTTPRequest) WithCookie(name, value string) *HTTPRequest {
	r.Cookies = append(r.Cookies, Cookie(name, value))
	return r
}

// WithBody sets the body.
func (r *HTTPRequest) WithBody(b *Body) *HTTPRequest {
	r.Body = b
	return r
}

// WithSecure sets the secure flag.
func (r *HTTPRequest) WithSecure(secure bool) *HTTPRequest {
	r.Secure = &secure
	return r
}

// Options returns the effective match options.
func (r *HTTPRequest) Options() MatchOptions {
	if r == nil || r.MatchOptions == nil {
		return MatchOptions{}
	}
	return *r.MatchOptions
}

// Header returns the first value of a header, compared case-insensitively.
func (r *HTTPRequest) Header(name string) string {
	return r.Headers.First(name, true)
}

// BodyBytes returns the body payload.
func (r *HTTPRequest) BodyBytes() []byte {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Bytes()
}

// IsSecure reports whether the request arrived over TLS.
func (r *HTTPRequest) IsSecure() bool {
	return r != nil && r.Secure != nil && *r.Secure
}

// Clone performs a deep copy.
func (r *HTTPRequest) Clone() *HTTPRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.QueryStringParameters = r.QueryStringParameters.Clone()
	c.Headers = r.Headers.Clone()
	c.Cookies = r.Cookies.Clone()
	c.Body = r.Body.Clone()
	if r.Secure != nil {
		v := *r.Secure
		c.Secure = &v
	}
	if r.KeepAlive != nil {
		v := *r.KeepAlive
		c.KeepAlive = &v
	}
	if r.SocketAddress != nil {
		sa := *r.SocketAddress
		c.SocketAddress = &sa
	}
	if r.MatchOptions != nil {
		mo := *r.MatchOptions
		c.MatchOptions = &mo
	}
	return &c
}

// FromHTTPRequest captures an inbound request. The body has already been read.
func FromHTTPRequest(r *http.Request, body []byte, secure bool) *HTTPRequest {
	req := &HTTPRequest{
		Method:                NottableString{Value: r.Method},
		Path:                  NottableString{Value: r.URL.Path},
		QueryStringParameters: FromMultiMap(r.URL.Query()),
		Headers:               FromMultiMap(r.Header),
		Secure:                &secure,
	}
	if req.Path.Value == "" {
		req.Path.Value = "/"
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if host != "" && r.Header.Get("Host") == "" {
		req.Headers = append(KeyMultiValues{{Name: NottableString{Value: "Host"}, Values: plainStrings([]string{host})}}, req.Headers...)
	}

	keepAlive := !r.Close
	req.KeepAlive = &keepAlive

	for _, c := range r.Cookies() {
		req.Cookies = append(req.Cookies, KeyAndValue{
			Name:  NottableString{Value: c.Name},
			Value: NottableString{Value: c.Value},
		})
	}

	if len(body) > 0 {
		req.Body = &Body{Type: BodyString, String: string(body), ContentType: r.Header.Get("Content-Type")}
		if !isTextual(r.Header.Get("Content-Type"), body) {
			req.Body = &Body{Type: BodyBinary, Base64Bytes: body, ContentType: r.Header.Get("Content-Type")}
		}
	}

	if r.URL.IsAbs() || host != "" {
		req.SocketAddress = socketAddressFor(r, host, secure)
	}
	return req
}

// ToHTTPRequest builds an outbound request aimed at the request's socket
// address, or at its Host header when no socket address is set.
func (r *HTTPRequest) ToHTTPRequest() (*http.Request, error) {
	target := r.TargetURL()
	var body io.Reader
	if payload := r.BodyBytes(); len(payload) > 0 {
		body = strings.NewReader(string(payload))
	}

	out, err := http.NewRequest(r.Method.Value, target, body)
	if err != nil {
		return nil, err
	}
	out.URL.RawQuery = r.QueryStringParameters.URLValues().Encode()
	for _, e := range r.Headers {
		if e.Name.Not || hopHeader(e.Name.Value) {
			continue
		}
		for _, v := range e.Values {
			out.Header.Add(e.Name.Value, v.Value)
		}
	}
	if host := r.Header("Host"); host != "" {
		out.Host = host
	}
	if len(r.Cookies) > 0 && out.Header.Get("Cookie") == "" {
		for _, c := range r.Cookies {
			out.AddCookie(&http.Cookie{Name: c.Name.Value, Value: c.Value.Value})
		}
	}
	return out, nil
}

// TargetURL returns scheme://host:port/path for the request.
func (r *HTTPRequest) TargetURL() string {
	scheme := "http"
	host := r.Header("Host")
	if sa := r.SocketAddress; sa != nil && sa.Host != "" {
		if sa.Scheme == SchemeHTTPS {
			scheme = "https"
		}
		host = sa.Host
		if sa.Port > 0 {
			host = net.JoinHostPort(sa.Host, strconv.Itoa(sa.Port))
		}
	} else if r.IsSecure() {
		scheme = "https"
	}
	path := r.Path.Value
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func socketAddressFor(r *http.Request, host string, secure bool) *SocketAddress {
	scheme := SchemeHTTP
	if secure || r.URL.Scheme == "https" {
		scheme = SchemeHTTPS
	}
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		h = host
		p = "80"
		if scheme == SchemeHTTPS {
			p = "443"
		}
	}
	port, _ := strconv.Atoi(p)
	return &SocketAddress{Host: h, Port: port, Scheme: scheme}
}

func hopHeader(name string) bool {
	switch strings.ToLower(name) {
	case "connection", "keep-alive", "proxy-connection", "proxy-authorization",
		"te", "trailer", "transfer-encoding", "upgrade", "content-length":
		return true
	}
	return false
}

func isTextual(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/"),
		strings.Contains(ct, "json"),
		strings.Contains(ct, "xml"),
		strings.Contains(ct, "x-www-form-urlencoded"),
		strings.Contains(ct, "javascript"):
		return true
	case ct == "":
		return utf8Printable(body)
	}
	return false
}

func utf8Printable(body []byte) bool {
	if !utf8.Valid(body) {
		return false
	}
	for _, r := range string(body) {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
