// Package httpclient sends captured requests to upstream servers.
//
// It is the outbound collaborator used by forward actions and by the
// object-callback round trip. Requests may be routed through an upstream
// SOCKS5 or HTTP proxy.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxBodySize = 10 << 20
)

// ErrUnsupportedProxy is returned for upstream proxy URLs with an unknown scheme.
var ErrUnsupportedProxy = errors.New("unsupported upstream proxy scheme")

// Options configures a Client.
type Options struct {
	// Timeout bounds a whole exchange. Zero means DefaultTimeout.
	Timeout time.Duration
	// UpstreamProxy is socks5://host:port or http://host:port. Empty dials directly.
	UpstreamProxy string
	// MaxBodySize bounds the response body read. Zero means DefaultMaxBodySize.
	MaxBodySize int64
	// VerifyUpstreamTLS checks upstream certificates. Interception normally
	// forwards to hosts with self-signed certificates, so it is off by default.
	VerifyUpstreamTLS bool
	Logger            *slog.Logger
}

// Client sends model requests and captures model responses.
type Client struct {
	http    *http.Client
	dialer  proxy.ContextDialer
	maxBody int64
	log     *slog.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	base := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         base.DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true,
		//nolint:gosec // G402: upstreams behind the proxy commonly use self-signed certificates
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.VerifyUpstreamTLS},
	}
	c := &Client{maxBody: opts.MaxBodySize, log: opts.Logger, dialer: base}

	if opts.UpstreamProxy != "" {
		u, err := url.Parse(opts.UpstreamProxy)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream proxy %q: %w", opts.UpstreamProxy, err)
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			d, err := proxy.FromURL(u, base)
			if err != nil {
				return nil, fmt.Errorf("socks5 upstream %s: %w", u.Host, err)
			}
			cd, ok := d.(proxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("%w: %s dialer lacks DialContext", ErrUnsupportedProxy, u.Scheme)
			}
			transport.DialContext = cd.DialContext
			c.dialer = cd
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedProxy, u.Scheme)
		}
	}

	c.http = &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

// Send issues req to target, or to the request's own socket address and
// Host header when target is nil, and returns the upstream response with its
// body intact. The Host header is rewritten to the target.
func (c *Client) Send(ctx context.Context, req *model.HTTPRequest, target *model.SocketAddress) (*model.HTTPResponse, error) {
	out := req.Clone()
	if target != nil && target.Host != "" {
		t := *target
		if t.Scheme == "" {
			t.Scheme = model.SchemeHTTP
		}
		if t.Port == 0 {
			t.Port = 80
			if t.Scheme == model.SchemeHTTPS {
				t.Port = 443
			}
		}
		out.SocketAddress = &t
		out.Headers = out.Headers.With("Host", true, hostHeader(t))
	}

	httpReq, err := out.ToHTTPRequest()
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq = httpReq.WithContext(ctx)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send %s %s: %w", httpReq.Method, httpReq.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	c.log.Debug("upstream response",
		"method", httpReq.Method,
		"url", httpReq.URL.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return model.FromHTTPResponse(resp, body), nil
}

// Dial opens a raw connection to addr through the configured upstream, used
// for tunnels that are relayed rather than intercepted.
func (c *Client) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func hostHeader(t model.SocketAddress) string {
	if (t.Scheme == model.SchemeHTTPS && t.Port == 443) || (t.Scheme != model.SchemeHTTPS && t.Port == 80) {
		return t.Host
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}
