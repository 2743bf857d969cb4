package unification

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// peekConn is a connection whose unread bytes can be inspected.
type peekConn struct {
	net.Conn
	r *bufio.Reader
}

func newPeekConn(c net.Conn) *peekConn {
	if pc, ok := c.(*peekConn); ok {
		return pc
	}
	return &peekConn{Conn: c, r: bufio.NewReaderSize(c, 16<<10)}
}

func (c *peekConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// sniff classifies the connection without consuming anything. It blocks
// until enough bytes arrive to decide.
func (c *peekConn) sniff() (Protocol, error) {
	n := 1
	for {
		b, err := c.r.Peek(n)
		if p, ok := Classify(b); ok {
			return p, nil
		}
		if err != nil {
			if len(b) > 0 && errors.Is(err, io.EOF) {
				return ProtoRaw, nil
			}
			return "", err
		}
		n = len(b) + 1
		if buffered := min(c.r.Buffered(), maxSniff); buffered > n {
			n = buffered
		}
		if n > maxSniff {
			return ProtoRaw, nil
		}
	}
}

// sniffWithin is sniff bounded by d for protocols where the server may be
// expected to speak first. A timeout classifies the stream as raw.
func (c *peekConn) sniffWithin(d time.Duration) (Protocol, error) {
	if d <= 0 {
		return c.sniff()
	}
	_ = c.SetReadDeadline(time.Now().Add(d))
	p, err := c.sniff()
	_ = c.SetReadDeadline(time.Time{})
	var ne net.Error
	if err != nil && errors.As(err, &ne) && ne.Timeout() {
		return ProtoRaw, nil
	}
	return p, err
}

// pipeConn is one end of an in-process tunnel. It reports TCP addresses so
// SOCKS code that builds replies from them keeps working.
type pipeConn struct {
	net.Conn
	local  *net.TCPAddr
	remote *net.TCPAddr
}

func newPipe(target string) (*pipeConn, *pipeConn) {
	a, b := net.Pipe()
	loopback := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	remote := loopback
	if host, port, err := net.SplitHostPort(target); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			p, _ := net.LookupPort("tcp", port)
			remote = &net.TCPAddr{IP: ip, Port: p}
		}
	}
	return &pipeConn{Conn: a, local: loopback, remote: remote},
		&pipeConn{Conn: b, local: remote, remote: loopback}
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

// CloseWrite closes the pipe. net.Pipe has no half-close.
func (c *pipeConn) CloseWrite() error { return c.Conn.Close() }

// relay copies bytes both ways until either side finishes, then closes both.
func relay(client, upstream net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, _ = io.Copy(upstream, client)
		_ = upstream.Close()
	}()

	go func() {
		defer wg.Done()
		_, _ = io.Copy(client, upstream)
		_ = client.Close()
	}()

	wg.Wait()
}
