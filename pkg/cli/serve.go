package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0x1a0b/mockserver-sub001/pkg/cli/internal/output"
	"github.com/0x1a0b/mockserver-sub001/pkg/config"
	"github.com/0x1a0b/mockserver-sub001/pkg/engine"
)

// serveOptions is bound to the serve command's flags.
type serveOptions struct {
	configPath string
	printOnly  bool

	ports           []int
	proxyRemoteHost string
	proxyRemotePort int
	upstreamProxy   string

	logLevel  string
	logFormat string
	lokiURL   string

	maxExpectations int
	maxLogEntries   int
	maxBodySize     int64
	callbackTimeout int
	socketTimeout   int

	proxyUnmatched bool
	socksIntercept bool

	caCert string
	caKey  string

	initializer string
	watch       bool

	persist       string
	persistDriver string
	persistDSN    string
}

func newServeCmd() *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mock server (foreground)",
		Long: `Start the mock server and block until it is stopped by a signal or by a
PUT /mockserver/stop.

Values are resolved in order: flags, then MOCKSERVER_* environment
variables, then the configuration file, then defaults.`,
		Example: `  # Start with defaults on port 1080
  mockserver serve

  # Listen on two ports
  mockserver serve --port 1080 --port 1090

  # Load expectations at startup and reload them on change
  mockserver serve --initializer 'expectations/**/*.json' --watch

  # Keep expectations across restarts
  mockserver serve --persist expectations.json

  # Start with a configuration file
  mockserver serve --config mockserver.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve(cmd)
			if err != nil {
				return err
			}
			if o.printOnly {
				return printConfig(cmd, cfg)
			}
			return runServe(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Path to a YAML, JSON or HCL configuration file")
	f.BoolVar(&o.printOnly, "print-config", false, "Print the resolved configuration and exit")
	f.IntSliceVarP(&o.ports, "port", "p", []int{config.DefaultPort}, "Port to listen on (repeatable, 0 picks a free port)")
	f.StringVar(&o.proxyRemoteHost, "proxy-remote-host", "", "Forward unmatched requests to this host")
	f.IntVar(&o.proxyRemotePort, "proxy-remote-port", 0, "Port for --proxy-remote-host (default 80)")
	f.StringVar(&o.upstreamProxy, "upstream-proxy", "", "Route outbound traffic via socks5://host:port or http://host:port")
	f.StringVar(&o.logLevel, "log-level", config.DefaultLogLevel, "Log level (TRACE, DEBUG, INFO, WARN, ERROR, OFF)")
	f.StringVar(&o.logFormat, "log-format", config.DefaultLogFormat, "Log format (text, json)")
	f.StringVar(&o.lokiURL, "loki-url", "", "Also ship logs to this Loki push URL")
	f.IntVar(&o.maxExpectations, "max-expectations", config.DefaultMaxExpectations, "Maximum stored expectations")
	f.IntVar(&o.maxLogEntries, "max-log-entries", config.DefaultMaxLogEntries, "Maximum retained log entries")
	f.Int64Var(&o.maxBodySize, "max-body-size", config.DefaultMaxBodySize, "Maximum request body size in bytes")
	f.IntVar(&o.callbackTimeout, "callback-timeout", config.DefaultCallbackTimeoutMs, "Object callback timeout in milliseconds")
	f.IntVar(&o.socketTimeout, "socket-timeout", config.DefaultMaxSocketTimeoutMs, "Outbound request timeout in milliseconds")
	f.BoolVar(&o.proxyUnmatched, "proxy-unmatched", true, "Forward unmatched proxied requests upstream")
	f.BoolVar(&o.socksIntercept, "socks-intercept", true, "Serve SOCKS connections through the mock pipeline")
	f.StringVar(&o.caCert, "ca-cert", "", "CA certificate PEM path (generated when missing)")
	f.StringVar(&o.caKey, "ca-key", "", "CA private key PEM path (generated when missing)")
	f.StringVar(&o.initializer, "initializer", "", "Expectation file or glob loaded at startup")
	f.BoolVar(&o.watch, "watch", false, "Reload initializer files when they change")
	f.StringVar(&o.persist, "persist", "", "Mirror active expectations to this file")
	f.StringVar(&o.persistDriver, "persist-driver", "", "Mirror active expectations to a database (sqlite3, postgres)")
	f.StringVar(&o.persistDSN, "persist-dsn", "", "Data source name for --persist-driver")
	return cmd
}

// resolve builds the server configuration: file, then environment, then
// every flag the user actually set.
func (o *serveOptions) resolve(cmd *cobra.Command) (*config.Server, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg)

	f := cmd.Flags()
	set := func(flag, field string, apply func()) {
		if f.Changed(flag) {
			apply()
			cfg.SetSource(field, config.SourceFlag)
		}
	}
	set("port", "ports", func() { cfg.Ports = o.ports })
	set("proxy-remote-host", "proxyRemoteHost", func() { cfg.ProxyRemoteHost = o.proxyRemoteHost })
	set("proxy-remote-port", "proxyRemotePort", func() { cfg.ProxyRemotePort = o.proxyRemotePort })
	set("upstream-proxy", "upstreamProxy", func() { cfg.UpstreamProxy = o.upstreamProxy })
	set("log-level", "logLevel", func() { cfg.LogLevel = o.logLevel })
	set("log-format", "logFormat", func() { cfg.LogFormat = o.logFormat })
	set("loki-url", "lokiUrl", func() { cfg.LokiURL = o.lokiURL })
	set("max-expectations", "maxExpectations", func() { cfg.MaxExpectations = o.maxExpectations })
	set("max-log-entries", "maxLogEntries", func() { cfg.MaxLogEntries = o.maxLogEntries })
	set("max-body-size", "maxBodySize", func() { cfg.MaxBodySize = o.maxBodySize })
	set("callback-timeout", "callbackTimeoutMs", func() { cfg.CallbackTimeoutMs = o.callbackTimeout })
	set("socket-timeout", "maxSocketTimeoutMs", func() { cfg.MaxSocketTimeoutMs = o.socketTimeout })
	set("proxy-unmatched", "proxyUnmatched", func() { cfg.ProxyUnmatched = o.proxyUnmatched })
	set("socks-intercept", "socksIntercept", func() { cfg.SocksIntercept = o.socksIntercept })
	set("ca-cert", "ca", func() { caOf(cfg).CertPath = o.caCert })
	set("ca-key", "ca", func() { caOf(cfg).KeyPath = o.caKey })
	set("initializer", "initializer", func() { initializerOf(cfg).Path = o.initializer })
	set("watch", "initializer", func() { initializerOf(cfg).Watch = o.watch })
	set("persist", "persistence", func() { persistenceOf(cfg).Path = o.persist })
	set("persist-driver", "persistence", func() { persistenceOf(cfg).Driver = o.persistDriver })
	set("persist-dsn", "persistence", func() { persistenceOf(cfg).DSN = o.persistDSN })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func caOf(cfg *config.Server) *config.CA {
	if cfg.CA == nil {
		cfg.CA = &config.CA{}
	}
	return cfg.CA
}

func initializerOf(cfg *config.Server) *config.Initializer {
	if cfg.Initializer == nil {
		cfg.Initializer = &config.Initializer{}
	}
	return cfg.Initializer
}

func persistenceOf(cfg *config.Server) *config.Persistence {
	if cfg.Persistence == nil {
		cfg.Persistence = &config.Persistence{}
	}
	return cfg.Persistence
}

func printConfig(cmd *cobra.Command, cfg *config.Server) error {
	out := cmd.OutOrStdout()
	if err := output.JSON(out, cfg); err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return nil
	}
	fields := make([]string, 0, len(cfg.Sources))
	for field := range cfg.Sources {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	fmt.Fprintln(out)
	tw := output.Table(out)
	fmt.Fprintln(tw, "FIELD\tSOURCE")
	for _, field := range fields {
		fmt.Fprintf(tw, "%s\t%s\n", field, cfg.Sources[field])
	}
	return tw.Flush()
}

// runServe starts the server and blocks until a signal arrives, the command
// context ends, or the server stops itself.
func runServe(cmd *cobra.Command, cfg *config.Server) error {
	srv, err := engine.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mockserver listening on %s\n", describePorts(srv.Ports()))

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
	case <-srv.Done():
	}
	return srv.Stop()
}

func describePorts(ports []int) string {
	if len(ports) == 1 {
		return fmt.Sprintf("port %d", ports[0])
	}
	s := "ports"
	for i, p := range ports {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(" %d", p)
	}
	return s
}
