package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []int{DefaultPort}, cfg.Ports)
	assert.True(t, cfg.ProxyUnmatched)
	assert.True(t, cfg.SocksIntercept)
	assert.Equal(t, 20*time.Second, cfg.CallbackTimeout())
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout())
	assert.Equal(t, SourceDefault, cfg.Source("ports"))
}

func TestLoad_Formats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "mockserver.yaml",
			content: `
ports: [1090, 1091]
logLevel: DEBUG
maxExpectations: 10
socksIntercept: false
ca:
  certPath: /tmp/ca.pem
  keyPath: /tmp/ca.key
  domains: [a.test]
initializer:
  path: "exp/**/*.json"
  watch: true
`,
		},
		{
			name: "json",
			file: "mockserver.json",
			content: `{
  "ports": [1090, 1091],
  "logLevel": "DEBUG",
  "maxExpectations": 10,
  "socksIntercept": false,
  "ca": {"certPath": "/tmp/ca.pem", "keyPath": "/tmp/ca.key", "domains": ["a.test"]},
  "initializer": {"path": "exp/**/*.json", "watch": true}
}`,
		},
		{
			name: "hcl",
			file: "mockserver.hcl",
			content: `
ports            = [1090, 1091]
log_level        = "DEBUG"
max_expectations = 10
socks_intercept  = false

ca {
  cert_path = "/tmp/ca.pem"
  key_path  = "/tmp/ca.key"
  domains   = ["a.test"]
}

initializer {
  path  = "exp/**/*.json"
  watch = true
}
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			assert.Equal(t, []int{1090, 1091}, cfg.Ports)
			assert.Equal(t, "DEBUG", cfg.LogLevel)
			assert.Equal(t, 10, cfg.MaxExpectations)
			assert.False(t, cfg.SocksIntercept)
			assert.True(t, cfg.ProxyUnmatched, "unset fields keep their defaults")
			assert.Equal(t, DefaultMaxLogEntries, cfg.MaxLogEntries)
			require.NotNil(t, cfg.CA)
			assert.Equal(t, []string{"a.test"}, cfg.CA.Domains)
			require.NotNil(t, cfg.Initializer)
			assert.True(t, cfg.Initializer.Watch)

			assert.Equal(t, SourceFile, cfg.Source("ports"))
			assert.Equal(t, SourceFile, cfg.Source("ca"))
			assert.Equal(t, SourceDefault, cfg.Source("maxLogEntries"))
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = Load(writeFile(t, "empty.json", "  \n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Load(writeFile(t, "bad.json", "{"))
	assert.ErrorIs(t, err, ErrInvalidJSON)

	_, err = Load(writeFile(t, "bad.yaml", "ports: [1, 2"))
	assert.ErrorIs(t, err, ErrInvalidYAML)

	_, err = Load(writeFile(t, "bad.hcl", "unknown_attribute = 1\n"))
	assert.ErrorIs(t, err, ErrInvalidHCL)

	_, err = Load(writeFile(t, "cfg.toml", "x = 1"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Ports, cfg.Ports)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvPorts:            "2000, 2001",
		EnvLogLevel:         "WARN",
		EnvProxyUnmatched:   "false",
		EnvMaxExpectations:  "not-a-number",
		EnvCallbackTimeout:  "500",
		EnvSANDomains:       "x.test,y.test",
		EnvPersistencePath:  "/tmp/exp.json",
		EnvInitializerWatch: "true",
	}
	cfg := Default()
	applyEnv(cfg, func(k string) string { return env[k] })

	assert.Equal(t, []int{2000, 2001}, cfg.Ports)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.False(t, cfg.ProxyUnmatched)
	assert.Equal(t, DefaultMaxExpectations, cfg.MaxExpectations, "unparsable values are ignored")
	assert.Equal(t, 500*time.Millisecond, cfg.CallbackTimeout())
	require.NotNil(t, cfg.CA)
	assert.Equal(t, []string{"x.test", "y.test"}, cfg.CA.Domains)
	require.NotNil(t, cfg.Persistence)
	assert.Equal(t, "/tmp/exp.json", cfg.Persistence.Path)
	require.NotNil(t, cfg.Initializer)
	assert.True(t, cfg.Initializer.Watch)

	assert.Equal(t, SourceEnv, cfg.Source("ports"))
	assert.Equal(t, SourceEnv, cfg.Source("proxyUnmatched"))
	assert.Equal(t, SourceDefault, cfg.Source("maxExpectations"))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{"no ports", func(s *Server) { s.Ports = nil }},
		{"port range", func(s *Server) { s.Ports = []int{70000} }},
		{"remote port without host", func(s *Server) { s.ProxyRemotePort = 8080 }},
		{"upstream scheme", func(s *Server) { s.UpstreamProxy = "ftp://proxy:21" }},
		{"upstream host", func(s *Server) { s.UpstreamProxy = "socks5://" }},
		{"log level", func(s *Server) { s.LogLevel = "LOUD" }},
		{"log format", func(s *Server) { s.LogFormat = "xml" }},
		{"max expectations", func(s *Server) { s.MaxExpectations = 0 }},
		{"half a ca", func(s *Server) { s.CA = &CA{CertPath: "ca.pem"} }},
		{"file persistence path", func(s *Server) { s.Persistence = &Persistence{} }},
		{"sql dsn", func(s *Server) { s.Persistence = &Persistence{Driver: DriverSQLite} }},
		{"driver", func(s *Server) { s.Persistence = &Persistence{Driver: "mongo", DSN: "x"} }},
		{"watch without path", func(s *Server) { s.Initializer = &Initializer{Watch: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.UpstreamProxy = "socks5://127.0.0.1:1080"
	cfg.Persistence = &Persistence{Driver: DriverPostgres, DSN: "postgres://localhost/mock"}
	assert.NoError(t, cfg.Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Default()
	cfg.Ports = []int{1234}
	cfg.CA = &CA{CertPath: "ca.pem", KeyPath: "ca.key"}

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(dir, "nested", name)
		require.NoError(t, Save(path, cfg))
		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, []int{1234}, loaded.Ports)
		assert.Equal(t, "ca.key", loaded.CA.KeyPath)
		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	}

	assert.ErrorIs(t, Save(filepath.Join(dir, "out.hcl"), cfg), ErrUnsupportedFormat)
	assert.Error(t, Save(filepath.Join(dir, "x.json"), nil))
}
