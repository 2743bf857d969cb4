package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
)

// Defaults.
const (
	DefaultOrganization = "MockServer"
	DefaultCommonName   = "www.mockserver.com"
	DefaultCAValidity   = 10 * 365 * 24 * time.Hour
	DefaultLeafValidity = 365 * 24 * time.Hour
	DefaultCacheSize    = 1000
	DefaultHost         = "localhost"
)

var (
	// ErrNoCA is returned when a leaf is requested before a CA is loaded or generated.
	ErrNoCA = errors.New("certificate authority not initialised")
	// ErrBadPEM is returned for PEM files that do not hold a certificate or key.
	ErrBadPEM = errors.New("invalid PEM data")
)

// Info describes the CA certificate.
type Info struct {
	Fingerprint  string    `json:"fingerprint"`
	Subject      string    `json:"subject"`
	Organization string    `json:"organization"`
	NotAfter     time.Time `json:"notAfter"`
}

// Option configures a Provider.
type Option func(*Provider)

// WithCacheSize bounds the number of cached leaf certificates.
func WithCacheSize(size int) Option {
	return func(p *Provider) { p.cache = newLeafCache(size) }
}

// WithDomains adds DNS subject alternative names to every leaf.
func WithDomains(domains ...string) Option {
	return func(p *Provider) { p.domains = append(p.domains, domains...) }
}

// WithIPs adds IP subject alternative names to every leaf. Unparsable
// entries are ignored.
func WithIPs(ips ...string) Option {
	return func(p *Provider) {
		for _, s := range ips {
			if ip := net.ParseIP(strings.TrimSpace(s)); ip != nil {
				p.ips = append(p.ips, ip)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// Provider mints leaf certificates signed by a single CA.
type Provider struct {
	mu       sync.RWMutex
	caCert   *x509.Certificate
	caKey    crypto.Signer
	certPath string
	keyPath  string
	domains  []string
	ips      []net.IP
	cache    *leafCache
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Provider backed by the given PEM paths. With empty paths the
// CA lives only in memory.
func New(certPath, keyPath string, opts ...Option) *Provider {
	p := &Provider{
		certPath: certPath,
		keyPath:  keyPath,
		cache:    newLeafCache(DefaultCacheSize),
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CertPath returns the CA certificate path.
func (p *Provider) CertPath() string { return p.certPath }

// KeyPath returns the CA key path.
func (p *Provider) KeyPath() string { return p.keyPath }

func (p *Provider) persistent() bool { return p.certPath != "" && p.keyPath != "" }

// Exists reports whether both CA files are present.
func (p *Provider) Exists() bool {
	if !p.persistent() {
		return false
	}
	_, certErr := os.Stat(p.certPath)
	_, keyErr := os.Stat(p.keyPath)
	return certErr == nil && keyErr == nil
}

// Generate creates a fresh self-signed CA, writing it to disk when the
// provider has paths. Cached leaves signed by a previous CA are dropped.
func (p *Provider) Generate() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return err
	}

	now := p.now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{DefaultOrganization},
			CommonName:   DefaultCommonName,
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(DefaultCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("sign CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parse CA certificate: %w", err)
	}

	if p.persistent() {
		keyDER, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return fmt.Errorf("encode CA key: %w", err)
		}
		if err := writePEM(p.certPath, "CERTIFICATE", der, 0o644); err != nil {
			return err
		}
		if err := writePEM(p.keyPath, "PRIVATE KEY", keyDER, 0o600); err != nil {
			return err
		}
	}

	p.install(cert, key)
	p.log.Info("generated CA certificate", "subject", cert.Subject.CommonName, "path", p.certPath)
	return nil
}

// Load reads the CA certificate and key from disk.
func (p *Provider) Load() error {
	if !p.persistent() {
		return fmt.Errorf("%w: no CA paths configured", ErrNoCA)
	}
	certPEM, err := os.ReadFile(p.certPath)
	if err != nil {
		return fmt.Errorf("read CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("%w: %s", ErrBadPEM, p.certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse CA certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(p.keyPath)
	if err != nil {
		return fmt.Errorf("read CA key: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("%w: %s", ErrBadPEM, p.keyPath)
	}
	key, err := parseKey(keyBlock)
	if err != nil {
		return err
	}

	p.install(cert, key)
	p.log.Debug("loaded CA certificate", "path", p.certPath)
	return nil
}

// EnsureCA loads the CA from disk when present and generates one otherwise.
func (p *Provider) EnsureCA() error {
	if p.Exists() {
		return p.Load()
	}
	return p.Generate()
}

func (p *Provider) install(cert *x509.Certificate, key crypto.Signer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caCert = cert
	p.caKey = key
	p.cache = newLeafCache(p.cache.maxSize)
}

// Leaf returns a certificate for host signed by the CA, minting it on first
// use. The leaf carries host plus the configured extra names.
func (p *Provider) Leaf(host string) (*tls.Certificate, error) {
	host = normaliseHost(host)

	p.mu.RLock()
	cache, caCert, caKey := p.cache, p.caCert, p.caKey
	p.mu.RUnlock()

	if leaf, ok := cache.get(host); ok {
		return leaf, nil
	}
	if caCert == nil || caKey == nil {
		return nil, ErrNoCA
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := p.now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{DefaultOrganization},
			CommonName:   host,
		},
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(DefaultLeafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	p.addNames(tmpl, host)

	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("sign leaf for %s: %w", host, err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse leaf for %s: %w", host, err)
	}

	leaf := &tls.Certificate{
		Certificate: [][]byte{der, caCert.Raw},
		PrivateKey:  key,
		Leaf:        parsed,
	}
	cache.set(host, leaf)
	p.log.Debug("minted leaf certificate", "host", host)
	return leaf, nil
}

func (p *Provider) addNames(tmpl *x509.Certificate, host string) {
	seenDNS := make(map[string]bool)
	seenIP := make(map[string]bool)
	addDNS := func(name string) {
		if name != "" && !seenDNS[name] {
			seenDNS[name] = true
			tmpl.DNSNames = append(tmpl.DNSNames, name)
		}
	}
	addIP := func(ip net.IP) {
		if !seenIP[ip.String()] {
			seenIP[ip.String()] = true
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		addIP(ip)
	} else {
		addDNS(host)
	}
	addDNS(DefaultHost)
	addIP(net.IPv4(127, 0, 0, 1))
	for _, d := range p.domains {
		addDNS(d)
	}
	for _, ip := range p.ips {
		addIP(ip)
	}
}

// TLSConfig returns a server configuration that picks the leaf from the
// client's SNI name, falling back to fallbackHost when SNI is absent.
func (p *Provider) TLSConfig(fallbackHost string) *tls.Config {
	if fallbackHost == "" {
		fallbackHost = DefaultHost
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = fallbackHost
			}
			return p.Leaf(host)
		},
	}
}

// CACertPEM returns the CA certificate in PEM form.
func (p *Provider) CACertPEM() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.caCert == nil {
		return nil, ErrNoCA
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.caCert.Raw}), nil
}

// CertPool returns a pool holding only the CA, for clients that must trust
// intercepted connections.
func (p *Provider) CertPool() (*x509.CertPool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.caCert == nil {
		return nil, ErrNoCA
	}
	pool := x509.NewCertPool()
	pool.AddCert(p.caCert)
	return pool, nil
}

// Info describes the loaded CA.
func (p *Provider) Info() (*Info, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.caCert == nil {
		return nil, ErrNoCA
	}
	sum := sha256.Sum256(p.caCert.Raw)
	info := &Info{
		Fingerprint: colonHex(sum[:]),
		Subject:     p.caCert.Subject.CommonName,
		NotAfter:    p.caCert.NotAfter,
	}
	if len(p.caCert.Subject.Organization) > 0 {
		info.Organization = p.caCert.Subject.Organization[0]
	}
	return info, nil
}

func normaliseHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "" {
		return DefaultHost
	}
	return host
}

func parseKey(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse CA key: %w", err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse CA key: %w", err)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA key: %w", err)
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return k, nil
	case *rsa.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrBadPEM, key)
	}
}

func serialNumber() (*big.Int, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("serial number: %w", err)
	}
	return n, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func colonHex(b []byte) string {
	h := hex.EncodeToString(b)
	parts := make([]string, 0, len(b))
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}
