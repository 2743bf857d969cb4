package unification

import "bytes"

// Protocol is the classification of a connection's first bytes.
type Protocol string

// Protocols.
const (
	ProtoTLS    Protocol = "tls"
	ProtoSOCKS4 Protocol = "socks4"
	ProtoSOCKS5 Protocol = "socks5"
	ProtoHTTP   Protocol = "http"
	ProtoRaw    Protocol = "raw"
)

// methodPrefixes are HTTP/1.x request-line starts, method plus space.
var methodPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("HEAD "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("DELETE "),
	[]byte("CONNECT "),
	[]byte("OPTIONS "),
	[]byte("TRACE "),
	[]byte("PATCH "),
}

// maxSniff is the most bytes Classify ever needs.
const maxSniff = 8

// Classify decides the protocol from peek. It returns false when peek is a
// prefix of more than one possibility and more bytes are needed.
func Classify(peek []byte) (Protocol, bool) {
	if len(peek) == 0 {
		return "", false
	}
	switch peek[0] {
	case 0x16:
		if len(peek) < 3 {
			if len(peek) == 2 && peek[1] != 0x03 {
				return ProtoRaw, true
			}
			return "", false
		}
		if peek[1] == 0x03 {
			return ProtoTLS, true
		}
		return ProtoRaw, true
	case 0x04:
		return ProtoSOCKS4, true
	case 0x05:
		return ProtoSOCKS5, true
	}

	undecided := false
	for _, m := range methodPrefixes {
		if bytes.HasPrefix(peek, m) {
			return ProtoHTTP, true
		}
		if len(peek) < len(m) && bytes.HasPrefix(m, peek) {
			undecided = true
		}
	}
	if undecided {
		return "", false
	}
	return ProtoRaw, true
}
