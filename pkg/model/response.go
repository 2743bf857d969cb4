package model

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ConnectionOptions tweak how a response is written to the socket.
type ConnectionOptions struct {
	SuppressContentLengthHeader bool  `json:"suppressContentLengthHeader,omitempty"`
	ContentLengthHeaderOverride *int  `json:"contentLengthHeaderOverride,omitempty"`
	SuppressConnectionHeader    bool  `json:"suppressConnectionHeader,omitempty"`
	KeepAliveOverride           *bool `json:"keepAliveOverride,omitempty"`
	CloseSocket                 bool  `json:"closeSocket,omitempty"`
}

// HTTPResponse is a response template or a captured upstream response.
type HTTPResponse struct {
	StatusCode        int                `json:"statusCode,omitempty"`
	ReasonPhrase      string             `json:"reasonPhrase,omitempty"`
	Headers           KeyMultiValues     `json:"headers,omitempty"`
	Cookies           KeyValues          `json:"cookies,omitempty"`
	Body              *Body              `json:"body,omitempty"`
	Delay             *Delay             `json:"delay,omitempty"`
	ConnectionOptions *ConnectionOptions `json:"connectionOptions,omitempty"`
}

// Response starts a response with the given status code.
func Response(status int) *HTTPResponse {
	return &HTTPResponse{StatusCode: status}
}

// NotFound returns the default response for unmatched requests.
func NotFound() *HTTPResponse {
	return &HTTPResponse{StatusCode: http.StatusNotFound}
}

// WithHeader adds a header.
func (r *HTTPResponse) WithHeader(name string, values ...string) *HTTPResponse {
	r.Headers = append(r.Headers, Header(name, values...))
	return r
}

// WithBody sets the body.
func (r *HTTPResponse) WithBody(b *Body) *HTTPResponse {
	r.Body = b
	return r
}

// WithDelay sets the delay.
func (r *HTTPResponse) WithDelay(d *Delay) *HTTPResponse {
	r.Delay = d
	return r
}

// Status returns the status code, defaulting to 200.
func (r *HTTPResponse) Status() int {
	if r == nil || r.StatusCode == 0 {
		return http.StatusOK
	}
	return r.StatusCode
}

// Header returns the first value of a header.
func (r *HTTPResponse) Header(name string) string {
	return r.Headers.First(name, true)
}

// BodyBytes returns the body payload.
func (r *HTTPResponse) BodyBytes() []byte {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Bytes()
}

// Clone performs a deep copy.
func (r *HTTPResponse) Clone() *HTTPResponse {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	c.Cookies = r.Cookies.Clone()
	c.Body = r.Body.Clone()
	if r.Delay != nil {
		d := *r.Delay
		c.Delay = &d
	}
	if r.ConnectionOptions != nil {
		co := *r.ConnectionOptions
		c.ConnectionOptions = &co
	}
	return &c
}

// HTTPHeader returns the headers to write, including cookies, the implied
// content type and the content length.
func (r *HTTPResponse) HTTPHeader() http.Header {
	h := r.Headers.HTTPHeader()
	for _, c := range r.Cookies {
		h.Add("Set-Cookie", (&http.Cookie{Name: c.Name.Value, Value: c.Value.Value}).String())
	}
	if h.Get("Content-Type") == "" {
		if ct := r.Body.DefaultContentType(); ct != "" {
			h.Set("Content-Type", ct)
		}
	}

	opts := r.ConnectionOptions
	if opts == nil {
		opts = &ConnectionOptions{}
	}
	switch {
	case opts.SuppressContentLengthHeader:
		h.Del("Content-Length")
	case opts.ContentLengthHeaderOverride != nil:
		h.Set("Content-Length", strconv.Itoa(*opts.ContentLengthHeaderOverride))
	default:
		h.Set("Content-Length", strconv.Itoa(len(r.BodyBytes())))
	}
	if opts.SuppressConnectionHeader {
		h.Del("Connection")
	} else if opts.KeepAliveOverride != nil {
		if *opts.KeepAliveOverride {
			h.Set("Connection", "keep-alive")
		} else {
			h.Set("Connection", "close")
		}
	}
	return h
}

// FromHTTPResponse captures an upstream response whose body was already read.
func FromHTTPResponse(resp *http.Response, body []byte) *HTTPResponse {
	out := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    FromMultiMap(resp.Header).Without("Content-Length", true).Without("Transfer-Encoding", true),
	}
	if reason := trimStatus(resp.Status, resp.StatusCode); reason != http.StatusText(resp.StatusCode) {
		out.ReasonPhrase = reason
	}
	if len(body) > 0 {
		ct := resp.Header.Get("Content-Type")
		if resp.Header.Get("Content-Encoding") == "" && isTextual(ct, body) {
			out.Body = &Body{Type: BodyString, String: string(body), ContentType: ct}
		} else {
			out.Body = &Body{Type: BodyBinary, Base64Bytes: body, ContentType: ct}
		}
	}
	return out
}

// WriteMessage writes the response as an HTTP/1.1 message on a raw
// connection answering a request with the given method. Header values from
// ConnectionOptions are written as given, so a content length override
// reaches the client unchanged. No body is written for HEAD requests or for
// 1xx, 204 and 304 statuses.
func (r *HTTPResponse) WriteMessage(w io.Writer, method string, keepAlive bool) error {
	h := r.HTTPHeader()
	if !keepAlive && h.Get("Connection") == "" && (r.ConnectionOptions == nil || !r.ConnectionOptions.SuppressConnectionHeader) {
		h.Set("Connection", "close")
	}
	status := r.Status()
	reason := r.ReasonPhrase
	if reason == "" {
		reason = http.StatusText(status)
	}
	noBody := bodylessStatus(status)
	if noBody && (r.ConnectionOptions == nil || r.ConnectionOptions.ContentLengthHeaderOverride == nil) {
		h.Del("Content-Length")
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, reason); err != nil {
		return err
	}
	if err := h.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if !noBody && method != http.MethodHead {
		if _, err := bw.Write(r.BodyBytes()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func bodylessStatus(status int) bool {
	return (status >= 100 && status < 200) || status == http.StatusNoContent || status == http.StatusNotModified
}

func trimStatus(status string, code int) string {
	prefix := strconv.Itoa(code) + " "
	if len(status) > len(prefix) && status[:len(prefix)] == prefix {
		return status[len(prefix):]
	}
	return ""
}
