package config

import "time"

// Defaults.
const (
	DefaultPort                = 1080
	DefaultMaxExpectations     = 5000
	DefaultMaxLogEntries       = 60000
	DefaultMaxWebSocketClients = 100
	DefaultMaxPendingCallbacks = 1000
	DefaultCallbackTimeoutMs   = 20000
	DefaultMaxSocketTimeoutMs  = 20000
	DefaultIdleTimeoutMs       = 120000
	DefaultMaxBodySize         = 10 << 20
	DefaultLogLevel            = "INFO"
	DefaultLogFormat           = "text"
)

// Value sources.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)

// Server is the full server configuration.
type Server struct {
	Ports []int `json:"ports,omitempty" yaml:"ports,omitempty" hcl:"ports,optional"`

	// ProxyRemoteHost and ProxyRemotePort name a fixed upstream. Unmatched
	// requests are forwarded there and non-HTTP connections relayed to it.
	ProxyRemoteHost string `json:"proxyRemoteHost,omitempty" yaml:"proxyRemoteHost,omitempty" hcl:"proxy_remote_host,optional"`
	ProxyRemotePort int    `json:"proxyRemotePort,omitempty" yaml:"proxyRemotePort,omitempty" hcl:"proxy_remote_port,optional"`

	// UpstreamProxy routes outbound traffic: socks5://host:port or http://host:port.
	UpstreamProxy string `json:"upstreamProxy,omitempty" yaml:"upstreamProxy,omitempty" hcl:"upstream_proxy,optional"`

	LogLevel  string `json:"logLevel,omitempty" yaml:"logLevel,omitempty" hcl:"log_level,optional"`
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty" hcl:"log_format,optional"`
	LokiURL   string `json:"lokiUrl,omitempty" yaml:"lokiUrl,omitempty" hcl:"loki_url,optional"`

	MaxExpectations     int   `json:"maxExpectations,omitempty" yaml:"maxExpectations,omitempty" hcl:"max_expectations,optional"`
	MaxLogEntries       int   `json:"maxLogEntries,omitempty" yaml:"maxLogEntries,omitempty" hcl:"max_log_entries,optional"`
	MaxWebSocketClients int   `json:"maxWebSocketClients,omitempty" yaml:"maxWebSocketClients,omitempty" hcl:"max_websocket_clients,optional"`
	MaxPendingCallbacks int   `json:"maxPendingCallbacks,omitempty" yaml:"maxPendingCallbacks,omitempty" hcl:"max_pending_callbacks,optional"`
	MaxBodySize         int64 `json:"maxBodySize,omitempty" yaml:"maxBodySize,omitempty" hcl:"max_body_size,optional"`

	CallbackTimeoutMs  int `json:"callbackTimeoutMs,omitempty" yaml:"callbackTimeoutMs,omitempty" hcl:"callback_timeout_ms,optional"`
	MaxSocketTimeoutMs int `json:"maxSocketTimeoutMs,omitempty" yaml:"maxSocketTimeoutMs,omitempty" hcl:"max_socket_timeout_ms,optional"`
	IdleTimeoutMs      int `json:"idleTimeoutMs,omitempty" yaml:"idleTimeoutMs,omitempty" hcl:"idle_timeout_ms,optional"`

	ProxyUnmatched bool `json:"proxyUnmatched" yaml:"proxyUnmatched" hcl:"proxy_unmatched,optional"`
	SocksIntercept bool `json:"socksIntercept" yaml:"socksIntercept" hcl:"socks_intercept,optional"`

	CA          *CA          `json:"ca,omitempty" yaml:"ca,omitempty" hcl:"ca,block"`
	Initializer *Initializer `json:"initializer,omitempty" yaml:"initializer,omitempty" hcl:"initializer,block"`
	Persistence *Persistence `json:"persistence,omitempty" yaml:"persistence,omitempty" hcl:"persistence,block"`

	// Sources maps a field name to where its value came from.
	Sources map[string]string `json:"-" yaml:"-"`
}

// CA configures the certificate authority used for TLS interception.
// Without paths a CA is generated in memory on each start.
type CA struct {
	CertPath string   `json:"certPath,omitempty" yaml:"certPath,omitempty" hcl:"cert_path,optional"`
	KeyPath  string   `json:"keyPath,omitempty" yaml:"keyPath,omitempty" hcl:"key_path,optional"`
	Domains  []string `json:"domains,omitempty" yaml:"domains,omitempty" hcl:"domains,optional"`
	IPs      []string `json:"ips,omitempty" yaml:"ips,omitempty" hcl:"ips,optional"`
}

// Initializer loads expectations from files at startup.
type Initializer struct {
	// Path is a file or a doublestar glob.
	Path  string `json:"path,omitempty" yaml:"path,omitempty" hcl:"path,optional"`
	Watch bool   `json:"watch,omitempty" yaml:"watch,omitempty" hcl:"watch,optional"`
}

// Persistence mirrors the active expectations to a file or a database.
type Persistence struct {
	Path   string `json:"path,omitempty" yaml:"path,omitempty" hcl:"path,optional"`
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty" hcl:"driver,optional"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty" hcl:"dsn,optional"`
}

// Default returns the configuration used when nothing is set.
func Default() *Server {
	return &Server{
		Ports:               []int{DefaultPort},
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		MaxExpectations:     DefaultMaxExpectations,
		MaxLogEntries:       DefaultMaxLogEntries,
		MaxWebSocketClients: DefaultMaxWebSocketClients,
		MaxPendingCallbacks: DefaultMaxPendingCallbacks,
		MaxBodySize:         DefaultMaxBodySize,
		CallbackTimeoutMs:   DefaultCallbackTimeoutMs,
		MaxSocketTimeoutMs:  DefaultMaxSocketTimeoutMs,
		IdleTimeoutMs:       DefaultIdleTimeoutMs,
		ProxyUnmatched:      true,
		SocksIntercept:      true,
		Sources:             make(map[string]string),
	}
}

// CallbackTimeout returns the object callback wait as a duration.
func (s *Server) CallbackTimeout() time.Duration {
	return time.Duration(s.CallbackTimeoutMs) * time.Millisecond
}

// MaxSocketTimeout returns the outbound request timeout as a duration.
func (s *Server) MaxSocketTimeout() time.Duration {
	return time.Duration(s.MaxSocketTimeoutMs) * time.Millisecond
}

// IdleTimeout returns the keep-alive idle timeout as a duration.
func (s *Server) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMs) * time.Millisecond
}

// Source reports where field's value came from.
func (s *Server) Source(field string) string {
	if src, ok := s.Sources[field]; ok {
		return src
	}
	return SourceDefault
}

// SetSource records where field's value came from.
func (s *Server) SetSource(field, source string) {
	if s.Sources == nil {
		s.Sources = make(map[string]string)
	}
	s.Sources[field] = source
}
