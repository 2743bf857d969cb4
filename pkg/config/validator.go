package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Persistence drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Validate reports every problem with cfg at once.
func (s *Server) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(s.Ports) == 0 {
		add("at least one port is required")
	}
	for _, p := range s.Ports {
		if p < 0 || p > 65535 {
			add("port %d out of range", p)
		}
	}
	if s.ProxyRemotePort < 0 || s.ProxyRemotePort > 65535 {
		add("proxyRemotePort %d out of range", s.ProxyRemotePort)
	}
	if s.ProxyRemotePort != 0 && s.ProxyRemoteHost == "" {
		add("proxyRemotePort requires proxyRemoteHost")
	}
	if s.UpstreamProxy != "" {
		u, err := url.Parse(s.UpstreamProxy)
		switch {
		case err != nil:
			add("upstreamProxy: %v", err)
		case u.Scheme != "socks5" && u.Scheme != "socks5h" && u.Scheme != "http" && u.Scheme != "https":
			add("upstreamProxy scheme %q must be socks5 or http", u.Scheme)
		case u.Host == "":
			add("upstreamProxy must include host:port")
		}
	}
	switch strings.ToUpper(s.LogLevel) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "OFF":
	default:
		add("unknown logLevel %q", s.LogLevel)
	}
	switch strings.ToLower(s.LogFormat) {
	case "", "text", "json":
	default:
		add("unknown logFormat %q", s.LogFormat)
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"maxExpectations", int64(s.MaxExpectations)},
		{"maxLogEntries", int64(s.MaxLogEntries)},
		{"maxWebSocketClients", int64(s.MaxWebSocketClients)},
		{"maxPendingCallbacks", int64(s.MaxPendingCallbacks)},
		{"maxBodySize", s.MaxBodySize},
		{"callbackTimeoutMs", int64(s.CallbackTimeoutMs)},
		{"maxSocketTimeoutMs", int64(s.MaxSocketTimeoutMs)},
		{"idleTimeoutMs", int64(s.IdleTimeoutMs)},
	}
	for _, f := range positive {
		if f.value <= 0 {
			add("%s must be positive", f.name)
		}
	}

	if ca := s.CA; ca != nil && (ca.CertPath == "") != (ca.KeyPath == "") {
		add("ca.certPath and ca.keyPath must be set together")
	}
	if p := s.Persistence; p != nil {
		switch p.Driver {
		case "", DriverFile:
			if p.Path == "" {
				add("persistence.path is required for file persistence")
			}
		case DriverSQLite, DriverPostgres:
			if p.DSN == "" {
				add("persistence.dsn is required for driver %s", p.Driver)
			}
		default:
			add("unknown persistence driver %q", p.Driver)
		}
	}
	if i := s.Initializer; i != nil && i.Watch && i.Path == "" {
		add("initializer.watch requires initializer.path")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
