package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvPorts               = "MOCKSERVER_SERVER_PORT"
	EnvProxyRemoteHost     = "MOCKSERVER_PROXY_REMOTE_HOST"
	EnvProxyRemotePort     = "MOCKSERVER_PROXY_REMOTE_PORT"
	EnvUpstreamProxy       = "MOCKSERVER_FORWARD_PROXY"
	EnvLogLevel            = "MOCKSERVER_LOG_LEVEL"
	EnvLogFormat           = "MOCKSERVER_LOG_FORMAT"
	EnvLokiURL             = "MOCKSERVER_LOKI_URL"
	EnvMaxExpectations     = "MOCKSERVER_MAX_EXPECTATIONS"
	EnvMaxLogEntries       = "MOCKSERVER_MAX_LOG_ENTRIES"
	EnvMaxWebSocketClients = "MOCKSERVER_MAX_WEB_SOCKET_EXPECTATIONS"
	EnvMaxPendingCallbacks = "MOCKSERVER_MAX_PENDING_CALLBACKS"
	EnvMaxBodySize         = "MOCKSERVER_MAX_BODY_SIZE"
	EnvCallbackTimeout     = "MOCKSERVER_CALLBACK_TIMEOUT"
	EnvMaxSocketTimeout    = "MOCKSERVER_MAX_SOCKET_TIMEOUT"
	EnvIdleTimeout         = "MOCKSERVER_IDLE_TIMEOUT"
	EnvProxyUnmatched      = "MOCKSERVER_PROXY_UNMATCHED"
	EnvSocksIntercept      = "MOCKSERVER_SOCKS_INTERCEPT"
	EnvCACert              = "MOCKSERVER_CERTIFICATE_AUTHORITY_CERTIFICATE"
	EnvCAKey               = "MOCKSERVER_CERTIFICATE_AUTHORITY_PRIVATE_KEY"
	EnvSANDomains          = "MOCKSERVER_SSL_SUBJECT_ALTERNATIVE_NAME_DOMAINS"
	EnvSANIPs              = "MOCKSERVER_SSL_SUBJECT_ALTERNATIVE_NAME_IPS"
	EnvInitializerPath     = "MOCKSERVER_INITIALIZATION_JSON_PATH"
	EnvInitializerWatch    = "MOCKSERVER_WATCH_INITIALIZATION_JSON"
	EnvPersistencePath     = "MOCKSERVER_PERSISTED_EXPECTATIONS_PATH"
	EnvPersistenceDriver   = "MOCKSERVER_PERSISTENCE_DRIVER"
	EnvPersistenceDSN      = "MOCKSERVER_PERSISTENCE_DSN"
)

// ApplyEnv overlays MOCKSERVER_* environment variables onto cfg. Unset or
// unparsable variables are ignored.
func ApplyEnv(cfg *Server) {
	applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Server, getenv func(string) string) {
	e := envReader{cfg: cfg, getenv: getenv}

	if ports, ok := parsePorts(getenv(EnvPorts)); ok {
		cfg.Ports = ports
		cfg.SetSource("ports", SourceEnv)
	}
	e.str(EnvProxyRemoteHost, "proxyRemoteHost", &cfg.ProxyRemoteHost)
	e.int(EnvProxyRemotePort, "proxyRemotePort", &cfg.ProxyRemotePort)
	e.str(EnvUpstreamProxy, "upstreamProxy", &cfg.UpstreamProxy)
	e.str(EnvLogLevel, "logLevel", &cfg.LogLevel)
	e.str(EnvLogFormat, "logFormat", &cfg.LogFormat)
	e.str(EnvLokiURL, "lokiUrl", &cfg.LokiURL)
	e.int(EnvMaxExpectations, "maxExpectations", &cfg.MaxExpectations)
	e.int(EnvMaxLogEntries, "maxLogEntries", &cfg.MaxLogEntries)
	e.int(EnvMaxWebSocketClients, "maxWebSocketClients", &cfg.MaxWebSocketClients)
	e.int(EnvMaxPendingCallbacks, "maxPendingCallbacks", &cfg.MaxPendingCallbacks)
	if v := e.get(EnvMaxBodySize, ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodySize = n
			cfg.SetSource("maxBodySize", SourceEnv)
		}
	}
	e.int(EnvCallbackTimeout, "callbackTimeoutMs", &cfg.CallbackTimeoutMs)
	e.int(EnvMaxSocketTimeout, "maxSocketTimeoutMs", &cfg.MaxSocketTimeoutMs)
	e.int(EnvIdleTimeout, "idleTimeoutMs", &cfg.IdleTimeoutMs)
	e.bool(EnvProxyUnmatched, "proxyUnmatched", &cfg.ProxyUnmatched)
	e.bool(EnvSocksIntercept, "socksIntercept", &cfg.SocksIntercept)

	if e.any(EnvCACert, EnvCAKey, EnvSANDomains, EnvSANIPs) {
		if cfg.CA == nil {
			cfg.CA = &CA{}
		}
		e.str(EnvCACert, "ca", &cfg.CA.CertPath)
		e.str(EnvCAKey, "ca", &cfg.CA.KeyPath)
		if v := e.get(EnvSANDomains, "ca"); v != "" {
			cfg.CA.Domains = splitList(v)
		}
		if v := e.get(EnvSANIPs, "ca"); v != "" {
			cfg.CA.IPs = splitList(v)
		}
	}
	if e.any(EnvInitializerPath, EnvInitializerWatch) {
		if cfg.Initializer == nil {
			cfg.Initializer = &Initializer{}
		}
		e.str(EnvInitializerPath, "initializer", &cfg.Initializer.Path)
		e.bool(EnvInitializerWatch, "initializer", &cfg.Initializer.Watch)
	}
	if e.any(EnvPersistencePath, EnvPersistenceDriver, EnvPersistenceDSN) {
		if cfg.Persistence == nil {
			cfg.Persistence = &Persistence{}
		}
		e.str(EnvPersistencePath, "persistence", &cfg.Persistence.Path)
		e.str(EnvPersistenceDriver, "persistence", &cfg.Persistence.Driver)
		e.str(EnvPersistenceDSN, "persistence", &cfg.Persistence.DSN)
	}
}

type envReader struct {
	cfg    *Server
	getenv func(string) string
}

// get returns the trimmed value of name and, when field is set and the value
// is present, records the environment as its source.
func (e envReader) get(name, field string) string {
	v := strings.TrimSpace(e.getenv(name))
	if v != "" && field != "" {
		e.cfg.SetSource(field, SourceEnv)
	}
	return v
}

func (e envReader) any(names ...string) bool {
	for _, n := range names {
		if strings.TrimSpace(e.getenv(n)) != "" {
			return true
		}
	}
	return false
}

func (e envReader) str(name, field string, dst *string) {
	if v := e.get(name, field); v != "" {
		*dst = v
	}
}

func (e envReader) int(name, field string, dst *int) {
	v := strings.TrimSpace(e.getenv(name))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
		e.cfg.SetSource(field, SourceEnv)
	}
}

func (e envReader) bool(name, field string, dst *bool) {
	v := strings.TrimSpace(e.getenv(name))
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
		e.cfg.SetSource(field, SourceEnv)
	}
}

// parsePorts parses a comma separated port list.
func parsePorts(v string) ([]int, bool) {
	parts := splitList(v)
	if len(parts) == 0 {
		return nil, false
	}
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		ports = append(ports, n)
	}
	return ports, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
