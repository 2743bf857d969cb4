package certs

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryProvider(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	p := New("", "", opts...)
	require.NoError(t, p.EnsureCA())
	return p
}

func TestProvider_LeafBeforeCA(t *testing.T) {
	t.Parallel()

	p := New("", "")
	_, err := p.Leaf("example.com")
	assert.ErrorIs(t, err, ErrNoCA)
	_, err = p.CACertPEM()
	assert.ErrorIs(t, err, ErrNoCA)
	assert.ErrorIs(t, p.Load(), ErrNoCA)
}

func TestProvider_LeafVerifiesAgainstCA(t *testing.T) {
	t.Parallel()

	p := memoryProvider(t, WithDomains("mock.internal"), WithIPs("10.0.0.7", "not-an-ip"))
	leaf, err := p.Leaf("Example.COM:443")
	require.NoError(t, err)

	assert.Equal(t, "example.com", leaf.Leaf.Subject.CommonName)
	assert.ElementsMatch(t, []string{"example.com", "localhost", "mock.internal"}, leaf.Leaf.DNSNames)
	require.Len(t, leaf.Leaf.IPAddresses, 2)
	assert.True(t, leaf.Leaf.IPAddresses[1].Equal(net.ParseIP("10.0.0.7")))

	pool, err := p.CertPool()
	require.NoError(t, err)
	_, err = leaf.Leaf.Verify(x509.VerifyOptions{DNSName: "mock.internal", Roots: pool})
	assert.NoError(t, err)
}

func TestProvider_IPHostBecomesIPSAN(t *testing.T) {
	t.Parallel()

	p := memoryProvider(t)
	leaf, err := p.Leaf("192.168.1.20")
	require.NoError(t, err)
	assert.NotContains(t, leaf.Leaf.DNSNames, "192.168.1.20")

	var found bool
	for _, ip := range leaf.Leaf.IPAddresses {
		if ip.Equal(net.ParseIP("192.168.1.20")) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProvider_LeafCache(t *testing.T) {
	t.Parallel()

	p := memoryProvider(t, WithCacheSize(2))
	a1, err := p.Leaf("a.test")
	require.NoError(t, err)
	a2, err := p.Leaf("a.test")
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	_, err = p.Leaf("b.test")
	require.NoError(t, err)
	_, err = p.Leaf("c.test")
	require.NoError(t, err)
	assert.Equal(t, 2, p.cache.len())

	_, ok := p.cache.get("a.test")
	assert.False(t, ok, "least recently used leaf is evicted")
}

func TestProvider_PersistAndReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca", "ca.pem")
	keyPath := filepath.Join(dir, "ca", "ca.key")

	first := New(certPath, keyPath)
	assert.False(t, first.Exists())
	require.NoError(t, first.EnsureCA())
	assert.True(t, first.Exists())
	want, err := first.Info()
	require.NoError(t, err)

	second := New(certPath, keyPath)
	require.NoError(t, second.EnsureCA())
	got, err := second.Info()
	require.NoError(t, err)
	assert.Equal(t, want.Fingerprint, got.Fingerprint)
	assert.Equal(t, DefaultOrganization, got.Organization)
	assert.Equal(t, DefaultCommonName, got.Subject)

	pemBytes, err := second.CACertPEM()
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "BEGIN CERTIFICATE")
}

func TestProvider_TLSConfigHandshake(t *testing.T) {
	t.Parallel()

	p := memoryProvider(t)
	pool, err := p.CertPool()
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()

	errc := make(chan error, 1)
	go func() {
		srv := tls.Server(serverConn, p.TLSConfig(""))
		errc <- srv.Handshake()
		_ = srv.Close()
	}()

	client := tls.Client(clientConn, &tls.Config{ServerName: "api.example.org", RootCAs: pool, MinVersion: tls.VersionTLS12})
	require.NoError(t, client.Handshake())
	assert.Equal(t, "api.example.org", client.ConnectionState().PeerCertificates[0].Subject.CommonName)
	require.NoError(t, <-errc)
}

func TestLeafCache_UpdateMovesToFront(t *testing.T) {
	t.Parallel()

	c := newLeafCache(2)
	one, two := &tls.Certificate{}, &tls.Certificate{}
	c.set("a", one)
	c.set("b", two)
	c.set("a", two)
	c.set("c", one)

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Same(t, two, got)
	_, ok = c.get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.len())

	assert.Equal(t, DefaultCacheSize, newLeafCache(0).maxSize)
}
