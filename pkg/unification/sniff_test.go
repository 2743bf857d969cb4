package unification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		peek   []byte
		want   Protocol
		wantOK bool
	}{
		{name: "tls client hello", peek: []byte{0x16, 0x03, 0x01}, want: ProtoTLS, wantOK: true},
		{name: "tls needs version minor", peek: []byte{0x16, 0x03}, wantOK: false},
		{name: "tls lookalike", peek: []byte{0x16, 0x01, 0x00}, want: ProtoRaw, wantOK: true},
		{name: "http get", peek: []byte("GET / HTTP/1.1\r\n"), want: ProtoHTTP, wantOK: true},
		{name: "http connect", peek: []byte("CONNECT example.com:443 HTTP/1.1\r\n"), want: ProtoHTTP, wantOK: true},
		{name: "partial method", peek: []byte("PO"), wantOK: false},
		{name: "method without space", peek: []byte("GET"), wantOK: false},
		{name: "socks5", peek: []byte{0x05, 0x01, 0x00}, want: ProtoSOCKS5, wantOK: true},
		{name: "socks4", peek: []byte{0x04, 0x01, 0x00, 0x50}, want: ProtoSOCKS4, wantOK: true},
		{name: "garbage", peek: []byte("SSH-2.0-OpenSSH"), want: ProtoRaw, wantOK: true},
		{name: "lowercase is not http", peek: []byte("get / HTTP/1.1"), want: ProtoRaw, wantOK: true},
		{name: "empty", peek: nil, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Classify(tt.peek)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
