package unification

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	socks5 "github.com/armon/go-socks5"
)

// passthroughResolver leaves domain names unresolved so tunnels keep the
// host name the client asked for.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(ctx context.Context, _ string) (context.Context, net.IP, error) {
	return ctx, nil, nil
}

// serveSOCKS5 runs the SOCKS5 handshake. Established tunnels either loop
// back into this handler or are dialed directly.
func (h *Handler) serveSOCKS5(ctx context.Context, pc *peekConn) {
	srv, err := socks5.New(&socks5.Config{
		Resolver: passthroughResolver{},
		Logger:   slog.NewLogLogger(h.log.Handler(), slog.LevelDebug),
		Dial: func(dctx context.Context, _, addr string) (net.Conn, error) {
			h.log.Debug("SOCKS5 tunnel", "remote", pc.RemoteAddr().String(), "target", addr)
			return h.openTunnel(ctx, dctx, addr)
		},
	})
	if err != nil {
		h.log.Error("socks5 server", "error", err)
		return
	}
	if err := srv.ServeConn(pc); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("SOCKS5 session ended", "remote", pc.RemoteAddr().String(), "error", err)
	}
}

// openTunnel returns the upstream end of a tunnel to addr.
func (h *Handler) openTunnel(ctx, dctx context.Context, addr string) (net.Conn, error) {
	if !h.socksIntercept {
		return h.dialer.Dial(dctx, addr)
	}
	client, server := newPipe(addr)
	go func() {
		defer func() { _ = server.Close() }()
		h.serveTunnel(ctx, server, addr)
	}()
	return client, nil
}

// SOCKS4 reply codes.
const (
	socks4Version  = 0x04
	socks4Connect  = 0x01
	socks4Granted  = 0x5A
	socks4Rejected = 0x5B
	socks4MaxField = 255
)

var errSOCKS4 = errors.New("malformed SOCKS4 request")

// socks4Request is a parsed SOCKS4 or SOCKS4a CONNECT.
type socks4Request struct {
	command byte
	port    uint16
	ip      net.IP
	user    string
	domain  string
}

func (r socks4Request) target() string {
	host := r.ip.String()
	if r.domain != "" {
		host = r.domain
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.port)))
}

func readSOCKS4(r *bufio.Reader) (socks4Request, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return socks4Request{}, err
	}
	if head[0] != socks4Version {
		return socks4Request{}, fmt.Errorf("%w: version %d", errSOCKS4, head[0])
	}
	req := socks4Request{
		command: head[1],
		port:    binary.BigEndian.Uint16(head[2:4]),
		ip:      net.IPv4(head[4], head[5], head[6], head[7]),
	}
	user, err := readCString(r)
	if err != nil {
		return socks4Request{}, err
	}
	req.user = user
	// 0.0.0.x with x != 0 marks a SOCKS4a request carrying a host name.
	if head[4] == 0 && head[5] == 0 && head[6] == 0 && head[7] != 0 {
		if req.domain, err = readCString(r); err != nil {
			return socks4Request{}, err
		}
	}
	return req, nil
}

func readCString(r *bufio.Reader) (string, error) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		if len(out) == socks4MaxField {
			return "", fmt.Errorf("%w: field too long", errSOCKS4)
		}
		out = append(out, b)
	}
}

func writeSOCKS4Reply(w io.Writer, code byte, port uint16, ip net.IP) error {
	reply := []byte{0x00, code, 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(reply[2:4], port)
	if v4 := ip.To4(); v4 != nil {
		copy(reply[4:], v4)
	}
	_, err := w.Write(reply)
	return err
}

// serveSOCKS4 handles SOCKS4 and SOCKS4a CONNECT requests.
func (h *Handler) serveSOCKS4(ctx context.Context, pc *peekConn) {
	req, err := readSOCKS4(pc.r)
	if err != nil {
		h.log.Debug("SOCKS4 request rejected", "remote", pc.RemoteAddr().String(), "error", err)
		return
	}
	if req.command != socks4Connect {
		_ = writeSOCKS4Reply(pc, socks4Rejected, req.port, req.ip)
		return
	}

	target := req.target()
	h.log.Debug("SOCKS4 tunnel", "remote", pc.RemoteAddr().String(), "target", target, "user", req.user)
	if h.socksIntercept {
		if err := writeSOCKS4Reply(pc, socks4Granted, req.port, req.ip); err != nil {
			return
		}
		h.serveTunnel(ctx, pc, target)
		return
	}

	upstream, err := h.dialer.Dial(ctx, target)
	if err != nil {
		h.log.Warn("SOCKS4 dial failed", "target", target, "error", err)
		_ = writeSOCKS4Reply(pc, socks4Rejected, req.port, req.ip)
		return
	}
	if err := writeSOCKS4Reply(pc, socks4Granted, req.port, req.ip); err != nil {
		_ = upstream.Close()
		return
	}
	relay(pc, upstream)
}
