package unification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/0x1a0b/mockserver-sub001/pkg/action"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Defaults.
const (
	DefaultIdleTimeout      = 120 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultTunnelSniff      = 2 * time.Second
	DefaultMaxBodySize      = 10 << 20
)

// ErrNoTLS is returned when a TLS connection arrives without a certificate provider.
var ErrNoTLS = errors.New("tls not configured")

// Dispatcher answers decoded requests.
type Dispatcher interface {
	Handle(ctx context.Context, sink action.ResponseSink, req *model.HTTPRequest) error
}

// Dialer opens upstream connections for raw relays and direct SOCKS tunnels.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// CertProvider supplies TLS server configuration. fallbackHost names the
// certificate used when the client sends no SNI.
type CertProvider interface {
	TLSConfig(fallbackHost string) *tls.Config
}

// Option configures a Handler.
type Option func(*Handler)

// WithCertificates enables TLS termination and interception.
func WithCertificates(p CertProvider) Option {
	return func(h *Handler) { h.certs = p }
}

// WithDialer sets how upstream connections are opened.
func WithDialer(d Dialer) Option {
	return func(h *Handler) { h.dialer = d }
}

// WithControl routes requests accepted by match to a plain http.Handler
// instead of the dispatcher. Upgrades are supported through http.Hijacker.
func WithControl(match func(*http.Request) bool, handler http.Handler) Option {
	return func(h *Handler) {
		h.controlMatch = match
		h.control = handler
	}
}

// WithSocksIntercept makes SOCKS tunnels loop back into this handler so
// their requests are matched. When false SOCKS targets are dialed directly.
func WithSocksIntercept(enabled bool) Option {
	return func(h *Handler) { h.socksIntercept = enabled }
}

// WithRemote relays connections that are neither HTTP, TLS nor SOCKS to addr.
func WithRemote(addr string) Option {
	return func(h *Handler) { h.remote = addr }
}

// WithIdleTimeout bounds the wait for the next request on a connection.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.idleTimeout = d
		}
	}
}

// WithMaxBodySize bounds request bodies read from clients. Larger bodies
// are answered with 413 and the connection is closed.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// Handler classifies and serves connections.
type Handler struct {
	dispatcher     Dispatcher
	certs          CertProvider
	dialer         Dialer
	control        http.Handler
	controlMatch   func(*http.Request) bool
	socksIntercept bool
	remote         string
	idleTimeout    time.Duration
	tunnelSniff    time.Duration
	maxBody        int64
	log            *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New creates a Handler.
func New(d Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		dispatcher:     d,
		dialer:         netDialer{},
		socksIntercept: true,
		idleTimeout:    DefaultIdleTimeout,
		tunnelSniff:    DefaultTunnelSniff,
		maxBody:        DefaultMaxBodySize,
		log:            logging.Nop(),
		conns:          make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type netDialer struct{}

func (netDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Serve accepts connections from ln until ctx is done or ln fails. Each
// connection is served on its own goroutine.
func (h *Handler) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go h.ServeConn(ctx, conn)
	}
}

// CloseAll closes every connection currently being served.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.Close()
	}
}

// ActiveConnections returns the number of connections being served.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(c net.Conn) func() {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
	}
}

// ServeConn serves one connection until it closes. It never panics; a
// failure affects only this connection.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	untrack := h.track(conn)
	defer untrack()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic serving connection", "remote", conn.RemoteAddr().String(), "panic", r)
		}
	}()

	pc := newPeekConn(conn)
	_ = pc.SetReadDeadline(time.Now().Add(h.idleTimeout))
	proto, err := pc.sniff()
	_ = pc.SetReadDeadline(time.Time{})
	if err != nil {
		h.log.Debug("sniff failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	h.log.Debug("connection classified", "remote", conn.RemoteAddr().String(), "protocol", proto)

	switch proto {
	case ProtoTLS:
		h.serveTLS(ctx, pc, session{})
	case ProtoSOCKS5:
		h.serveSOCKS5(ctx, pc)
	case ProtoSOCKS4:
		h.serveSOCKS4(ctx, pc)
	case ProtoHTTP:
		h.serveHTTP(ctx, pc, session{})
	default:
		h.serveRaw(ctx, pc, h.remote)
	}
}

// session carries what is known about a connection's origin.
type session struct {
	secure bool
	// tunnel is the host:port the client asked to reach through CONNECT or
	// SOCKS; empty for direct connections.
	tunnel string
}

func (s session) host() string {
	if host, _, err := net.SplitHostPort(s.tunnel); err == nil {
		return host
	}
	return s.tunnel
}

// serveTLS terminates TLS then sniffs the decrypted stream once.
func (h *Handler) serveTLS(ctx context.Context, pc *peekConn, s session) {
	if h.certs == nil {
		if s.tunnel != "" {
			h.serveRaw(ctx, pc, s.tunnel)
			return
		}
		h.log.Warn("dropping TLS connection", "error", ErrNoTLS)
		return
	}

	tc := tls.Server(pc, h.certs.TLSConfig(s.host()))
	hctx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
	err := tc.HandshakeContext(hctx)
	cancel()
	if err != nil {
		h.log.Debug("TLS handshake failed", "remote", pc.RemoteAddr().String(), "tunnel", s.tunnel, "error", err)
		return
	}
	s.secure = true

	inner := newPeekConn(tc)
	proto, err := inner.sniffWithin(h.tunnelSniff)
	if err != nil {
		return
	}
	if proto == ProtoHTTP {
		h.serveHTTP(ctx, inner, s)
		return
	}
	if s.tunnel == "" {
		h.log.Debug("non-HTTP payload inside TLS", "remote", pc.RemoteAddr().String(), "protocol", proto)
		return
	}
	h.relayTLS(ctx, inner, s.tunnel)
}

// serveTunnel handles the stream a client opened with CONNECT or SOCKS.
func (h *Handler) serveTunnel(ctx context.Context, conn net.Conn, target string) {
	pc := newPeekConn(conn)
	proto, err := pc.sniffWithin(h.tunnelSniff)
	if err != nil {
		return
	}
	s := session{tunnel: target}
	switch proto {
	case ProtoTLS:
		h.serveTLS(ctx, pc, s)
	case ProtoHTTP:
		h.serveHTTP(ctx, pc, s)
	default:
		h.serveRaw(ctx, pc, target)
	}
}

// serveRaw relays the connection byte for byte to target.
func (h *Handler) serveRaw(ctx context.Context, pc *peekConn, target string) {
	if target == "" {
		h.log.Debug("unrecognised protocol with no relay target", "remote", pc.RemoteAddr().String())
		return
	}
	upstream, err := h.dialer.Dial(ctx, target)
	if err != nil {
		h.log.Warn("relay dial failed", "target", target, "error", err)
		return
	}
	h.log.Debug("relaying", "remote", pc.RemoteAddr().String(), "target", target)
	relay(pc, upstream)
}

// relayTLS relays a decrypted non-HTTP stream over a fresh TLS connection
// to target.
func (h *Handler) relayTLS(ctx context.Context, pc *peekConn, target string) {
	raw, err := h.dialer.Dial(ctx, target)
	if err != nil {
		h.log.Warn("relay dial failed", "target", target, "error", err)
		return
	}
	host, _, _ := net.SplitHostPort(target)
	//nolint:gosec // G402: intercepted upstreams commonly use self-signed certificates
	upstream := tls.Client(raw, &tls.Config{ServerName: host, InsecureSkipVerify: true})
	relay(pc, upstream)
}
