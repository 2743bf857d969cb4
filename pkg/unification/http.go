package unification

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/0x1a0b/mockserver-sub001/pkg/action"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// serveHTTP answers requests on pc in arrival order until the connection
// closes, a response asks for it to close, or it switches protocol.
func (h *Handler) serveHTTP(ctx context.Context, pc *peekConn, s session) {
	for {
		_ = pc.SetReadDeadline(time.Now().Add(h.idleTimeout))
		req, err := http.ReadRequest(pc.r)
		_ = pc.SetReadDeadline(time.Time{})
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.log.Debug("read request failed", "remote", pc.RemoteAddr().String(), "error", err)
				if !isTimeout(err) {
					writeHTTPError(pc, http.StatusBadRequest, "malformed request")
				}
			}
			return
		}

		if req.Method == http.MethodConnect {
			h.connect(ctx, pc, req)
			return
		}

		if h.control != nil && h.controlMatch != nil && h.controlMatch(req) {
			if !h.serveControl(ctx, pc, req) {
				return
			}
			continue
		}

		keepAlive, err := h.dispatch(ctx, pc, req, s)
		if err != nil {
			h.log.Debug("write response failed", "remote", pc.RemoteAddr().String(), "error", err)
			return
		}
		if !keepAlive {
			return
		}
	}
}

// dispatch decodes one request and hands it to the dispatcher. It reports
// whether the connection may carry another request.
func (h *Handler) dispatch(ctx context.Context, pc *peekConn, req *http.Request, s session) (bool, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, h.maxBody+1))
	_ = req.Body.Close()
	if err != nil {
		writeHTTPError(pc, http.StatusBadRequest, "error reading request body")
		return false, err
	}
	if int64(len(body)) > h.maxBody {
		h.log.Debug("request body too large", "remote", pc.RemoteAddr().String(), "path", req.URL.Path, "limit", h.maxBody)
		writeHTTPError(pc, http.StatusRequestEntityTooLarge, "request body exceeds maximum size")
		return false, nil
	}

	proxied := s.tunnel != "" || req.URL.IsAbs()
	if s.tunnel != "" && req.Host == "" {
		req.Host = s.tunnel
	}
	mreq := model.FromHTTPRequest(req, body, s.secure)
	if s.tunnel != "" {
		mreq.SocketAddress = tunnelAddress(s)
	}

	if proxied {
		ctx = action.WithProxied(ctx)
	}
	sink := &connSink{conn: pc, method: req.Method, keepAlive: !req.Close}
	if err := h.dispatcher.Handle(ctx, sink, mreq); err != nil {
		return false, err
	}
	return sink.keepAlive && !sink.closed, nil
}

func tunnelAddress(s session) *model.SocketAddress {
	host, portStr, err := net.SplitHostPort(s.tunnel)
	if err != nil {
		host, portStr = s.tunnel, "80"
		if s.secure {
			portStr = "443"
		}
	}
	port, _ := strconv.Atoi(portStr)
	scheme := model.SchemeHTTP
	if s.secure {
		scheme = model.SchemeHTTPS
	}
	return &model.SocketAddress{Host: host, Port: port, Scheme: scheme}
}

// connect answers a CONNECT request and serves the tunnel it opens.
func (h *Handler) connect(ctx context.Context, pc *peekConn, req *http.Request) {
	target := req.Host
	if target == "" {
		target = req.URL.Host
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}

	if _, err := io.WriteString(pc, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		h.log.Debug("CONNECT reply failed", "target", target, "error", err)
		return
	}
	h.log.Debug("CONNECT tunnel", "remote", pc.RemoteAddr().String(), "target", target)
	h.serveTunnel(ctx, pc, target)
}

// serveControl runs the control handler for one request. It reports whether
// the connection may carry another request.
func (h *Handler) serveControl(ctx context.Context, pc *peekConn, req *http.Request) bool {
	req = req.WithContext(ctx)
	req.RemoteAddr = pc.RemoteAddr().String()
	// The hijacked conn must not read through brw: upgraders may Reset
	// brw.Reader onto the returned conn.
	w := &connResponseWriter{
		conn:   pc.Conn,
		brw:    bufio.NewReadWriter(pc.r, bufio.NewWriter(pc.Conn)),
		header: make(http.Header),
	}
	h.control.ServeHTTP(w, req)
	if w.hijacked {
		return false
	}
	_, _ = io.Copy(io.Discard, req.Body)
	_ = req.Body.Close()
	if err := w.finish(req.Close); err != nil {
		return false
	}
	return !req.Close
}

// connSink writes dispatcher output to a raw connection.
type connSink struct {
	conn      net.Conn
	method    string
	keepAlive bool
	closed    bool
}

func (s *connSink) WriteResponse(resp *model.HTTPResponse) error {
	if opts := resp.ConnectionOptions; opts != nil {
		if opts.KeepAliveOverride != nil {
			s.keepAlive = *opts.KeepAliveOverride
		}
		if opts.CloseSocket {
			s.keepAlive = false
		}
	}
	if err := resp.WriteMessage(s.conn, s.method, s.keepAlive); err != nil {
		s.closed = true
		return fmt.Errorf("write response: %w", err)
	}
	if !s.keepAlive {
		s.close(false)
	}
	return nil
}

// ApplyFault writes any raw bytes and then closes the connection. A dropped
// connection is reset rather than closed gracefully where the transport allows.
func (s *connSink) ApplyFault(fault *model.HTTPError) error {
	var err error
	if len(fault.ResponseBytes) > 0 {
		if _, werr := s.conn.Write(fault.ResponseBytes); werr != nil {
			err = fmt.Errorf("write fault bytes: %w", werr)
		}
	}
	s.close(fault.DropConnection)
	return err
}

func (s *connSink) close(reset bool) {
	s.closed = true
	s.keepAlive = false
	if reset {
		if tc, ok := underlyingTCP(s.conn); ok {
			_ = tc.SetLinger(0)
		}
	}
	_ = s.conn.Close()
}

func underlyingTCP(c net.Conn) (*net.TCPConn, bool) {
	for {
		switch v := c.(type) {
		case *net.TCPConn:
			return v, true
		case *peekConn:
			c = v.Conn
		case interface{ NetConn() net.Conn }:
			c = v.NetConn()
		default:
			return nil, false
		}
	}
}

// connResponseWriter is an http.ResponseWriter over a raw connection.
// Responses are buffered and written with a Content-Length; a 101 status is
// written immediately so upgrades can hijack the connection.
type connResponseWriter struct {
	conn        net.Conn
	brw         *bufio.ReadWriter
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
	hijacked    bool
}

func (w *connResponseWriter) Header() http.Header { return w.header }

func (w *connResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	if status == http.StatusSwitchingProtocols {
		_ = writeHead(w.brw.Writer, status, w.header)
		_ = w.brw.Flush()
	}
}

func (w *connResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

// Hijack hands the connection to the caller. Bytes already read past the
// request are in the returned ReadWriter.
func (w *connResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	if err := w.brw.Flush(); err != nil {
		return nil, nil, err
	}
	return w.conn, w.brw, nil
}

func (w *connResponseWriter) finish(closeConn bool) error {
	if !w.wroteHeader {
		w.status = http.StatusOK
	}
	w.header.Set("Content-Length", strconv.Itoa(w.body.Len()))
	if closeConn {
		w.header.Set("Connection", "close")
	}
	if err := writeHead(w.brw.Writer, w.status, w.header); err != nil {
		return err
	}
	if _, err := w.brw.Write(w.body.Bytes()); err != nil {
		return err
	}
	return w.brw.Flush()
}

func writeHead(bw *bufio.Writer, status int, header http.Header) error {
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	if err := header.Write(bw); err != nil {
		return err
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// writeHTTPError writes a plain-text error response to a raw connection.
func writeHTTPError(conn net.Conn, status int, message string) {
	resp := &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(message)),
		ContentLength: int64(len(message)),
		Close:         true,
	}
	resp.Header.Set("Content-Type", "text/plain")
	_ = resp.Write(conn)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
