// Package unification serves every protocol the mock server speaks on a
// single port.
//
// Each accepted connection is sniffed from its first bytes without consuming
// them. TLS connections are terminated with a certificate from the
// certificate provider and sniffed once more on the decrypted stream. SOCKS4
// and SOCKS5 handshakes establish a tunnel. HTTP requests are decoded and
// handed to the action dispatcher in order. CONNECT requests open a tunnel,
// whose contents are intercepted when they are TLS or HTTP and relayed raw to
// the target otherwise.
//
// A connection is classified once, plus the single re-sniff after a TLS
// handshake or inside a tunnel. Classification waits for enough bytes to be
// unambiguous.
package unification
