package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/0x1a0b/mockserver-sub001/internal/matching"
	"github.com/0x1a0b/mockserver-sub001/pkg/action"
	"github.com/0x1a0b/mockserver-sub001/pkg/callback"
	"github.com/0x1a0b/mockserver-sub001/pkg/certs"
	"github.com/0x1a0b/mockserver-sub001/pkg/config"
	"github.com/0x1a0b/mockserver-sub001/pkg/expectation"
	"github.com/0x1a0b/mockserver-sub001/pkg/httpclient"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/persistence"
	"github.com/0x1a0b/mockserver-sub001/pkg/requestlog"
	"github.com/0x1a0b/mockserver-sub001/pkg/template"
	"github.com/0x1a0b/mockserver-sub001/pkg/unification"
)

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server already running")

// stopGrace lets the stop endpoint's reply reach the client before
// connections are closed.
const stopGrace = 100 * time.Millisecond

// Server is the top-level context object.
type Server struct {
	cfg      *config.Server
	log      *slog.Logger
	logClose func() error

	store      *expectation.Store
	events     *requestlog.Memory
	callbacks  *callback.Registry
	certs      *certs.Provider
	client     *httpclient.Client
	dispatcher *action.Dispatcher
	handler    *unification.Handler

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	listeners []net.Listener
	ports     []int
	sql       *persistence.SQLListener
	unlisten  []func()
	wg        sync.WaitGroup
	done      chan struct{}
	stopOnce  sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger replaces the logger built from the configuration.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer validates cfg and builds every component. Nothing listens until
// Start is called.
func NewServer(cfg *config.Server, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log, s.logClose = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.LogLevel),
			Format:  logging.ParseFormat(cfg.LogFormat),
			LokiURL: cfg.LokiURL,
		})
	}

	m := matching.New()
	s.store = expectation.NewStore(
		expectation.WithMatcher(m),
		expectation.WithMaxExpectations(cfg.MaxExpectations),
		expectation.WithLogger(logging.Component(s.log, "store")),
	)
	s.events = requestlog.NewMemory(m,
		requestlog.WithMaxEntries(cfg.MaxLogEntries),
		requestlog.WithLogger(logging.Component(s.log, "events")),
	)
	s.callbacks = callback.NewRegistry(
		callback.WithMaxClients(cfg.MaxWebSocketClients),
		callback.WithMaxPending(cfg.MaxPendingCallbacks),
		callback.WithLogger(logging.Component(s.log, "callbacks")),
	)

	ca := cfg.CA
	if ca == nil {
		ca = &config.CA{}
	}
	s.certs = certs.New(ca.CertPath, ca.KeyPath,
		certs.WithDomains(ca.Domains...),
		certs.WithIPs(ca.IPs...),
		certs.WithLogger(logging.Component(s.log, "certs")),
	)
	if err := s.certs.EnsureCA(); err != nil {
		return nil, fmt.Errorf("certificate authority: %w", err)
	}

	client, err := httpclient.New(httpclient.Options{
		Timeout:       cfg.MaxSocketTimeout(),
		UpstreamProxy: cfg.UpstreamProxy,
		MaxBodySize:   cfg.MaxBodySize,
		Logger:        logging.Component(s.log, "client"),
	})
	if err != nil {
		return nil, err
	}
	s.client = client

	dopts := []action.Option{
		action.WithCallbacks(s.callbacks),
		action.WithTemplates(template.New()),
		action.WithEventLog(s.events),
		action.WithLogger(logging.Component(s.log, "dispatcher")),
		action.WithCallbackTimeout(cfg.CallbackTimeout()),
		action.WithProxyUnmatched(cfg.ProxyUnmatched),
	}
	hopts := []unification.Option{
		unification.WithCertificates(s.certs),
		unification.WithDialer(s.client),
		unification.WithControl(isControl, s.controlHandler()),
		unification.WithSocksIntercept(cfg.SocksIntercept),
		unification.WithIdleTimeout(cfg.IdleTimeout()),
		unification.WithMaxBodySize(cfg.MaxBodySize),
		unification.WithLogger(logging.Component(s.log, "unification")),
	}
	if cfg.ProxyRemoteHost != "" {
		port := cfg.ProxyRemotePort
		if port == 0 {
			port = 80
		}
		dopts = append(dopts, action.WithRemote(&model.SocketAddress{
			Host:   cfg.ProxyRemoteHost,
			Port:   port,
			Scheme: model.SchemeHTTP,
		}))
		hopts = append(hopts, unification.WithRemote(net.JoinHostPort(cfg.ProxyRemoteHost, strconv.Itoa(port))))
	}
	s.dispatcher = action.New(s.store, s.client, dopts...)
	s.handler = unification.New(s.dispatcher, hopts...)
	return s, nil
}

// Config returns the configuration the server was built with.
func (s *Server) Config() *config.Server { return s.cfg }

// Store returns the expectation store.
func (s *Server) Store() *expectation.Store { return s.store }

// Events returns the event log.
func (s *Server) Events() *requestlog.Memory { return s.events }

// Callbacks returns the callback registry.
func (s *Server) Callbacks() *callback.Registry { return s.callbacks }

// ClassCallbacks returns the in-process callback set used by class callback
// actions.
func (s *Server) ClassCallbacks() *action.ClassCallbacks { return s.dispatcher.ClassCallbacks() }

// Certificates returns the certificate provider.
func (s *Server) Certificates() *certs.Provider { return s.certs }

// Start restores persisted expectations, runs the initializer and listens on
// every configured port. It returns once all ports are bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.startPersistence(runCtx); err != nil {
		cancel()
		return err
	}
	if err := s.startInitializer(runCtx); err != nil {
		cancel()
		s.closePersistence()
		return err
	}

	for _, port := range s.cfg.Ports {
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			cancel()
			for _, l := range s.listeners {
				_ = l.Close()
			}
			s.listeners, s.ports = nil, nil
			s.closePersistence()
			return fmt.Errorf("listen on port %d: %w", port, err)
		}
		s.listeners = append(s.listeners, ln)
		s.ports = append(s.ports, ln.Addr().(*net.TCPAddr).Port)
	}

	for _, ln := range s.listeners {
		s.wg.Add(1)
		go func(ln net.Listener) {
			defer s.wg.Done()
			if err := s.handler.Serve(runCtx, ln); err != nil {
				s.log.Error("listener failed", "addr", ln.Addr().String(), "error", err)
			}
		}(ln)
	}

	s.cancel = cancel
	s.running = true
	s.events.Log(&requestlog.Entry{
		Type:    requestlog.TypeServerConfiguration,
		Message: fmt.Sprintf("started on port%s: %s", plural(len(s.ports)), joinPorts(s.ports)),
	})
	s.log.Info("mockserver started", "ports", s.ports)
	return nil
}

func (s *Server) startPersistence(ctx context.Context) error {
	p := s.cfg.Persistence
	if p == nil {
		return nil
	}
	plog := logging.Component(s.log, "persistence")

	switch p.Driver {
	case "", config.DriverFile:
		if p.Path == "" {
			return nil
		}
		restored, err := persistence.NewInitializer(s.store, p.Path, persistence.WithInitializerLogger(plog)).Load()
		if err != nil {
			return fmt.Errorf("restore %s: %w", p.Path, err)
		}
		opts := []persistence.FileOption{persistence.WithFileLogger(plog)}
		if s.cfg.Initializer != nil {
			opts = append(opts, persistence.WithInitializerPath(s.cfg.Initializer.Path))
		}
		s.unlisten = append(s.unlisten, s.store.RegisterListener(persistence.NewFileListener(p.Path, opts...)))
		s.log.Info("persisting expectations", "path", p.Path, "restored", restored)
	default:
		l, err := persistence.OpenSQL(ctx, p.Driver, p.DSN, persistence.WithSQLLogger(plog))
		if err != nil {
			return err
		}
		exps, err := l.Load(ctx)
		if err != nil {
			_ = l.Close()
			return err
		}
		if _, err := s.store.Add(expectation.CauseFileInitializer, exps...); err != nil {
			_ = l.Close()
			return fmt.Errorf("restore from %s: %w", p.Driver, err)
		}
		s.sql = l
		s.unlisten = append(s.unlisten, s.store.RegisterListener(l))
		s.log.Info("persisting expectations", "driver", p.Driver, "restored", len(exps))
	}
	return nil
}

func (s *Server) startInitializer(ctx context.Context) error {
	in := s.cfg.Initializer
	if in == nil || in.Path == "" {
		return nil
	}
	loader := persistence.NewInitializer(s.store, in.Path,
		persistence.WithInitializerLogger(logging.Component(s.log, "initializer")))
	n, err := loader.Load()
	if err != nil {
		return fmt.Errorf("initializer %s: %w", in.Path, err)
	}
	s.log.Info("loaded initializer expectations", "pattern", in.Path, "count", n)

	if in.Watch {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := loader.Watch(ctx); err != nil {
				s.log.Error("initializer watch stopped", "error", err)
			}
		}()
	}
	return nil
}

// Ports returns the bound ports, in configuration order.
func (s *Server) Ports() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.ports...)
}

// Running reports whether the server is serving.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done is closed once Stop has finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stop closes every listener and connection, fails pending callbacks and
// flushes persistence and logs. It is safe to call more than once.
func (s *Server) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		listeners := s.listeners
		s.running = false
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		for _, ln := range listeners {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		s.handler.CloseAll()
		s.callbacks.Close()
		s.wg.Wait()

		s.mu.Lock()
		if err := s.closePersistence(); err != nil {
			errs = append(errs, err)
		}
		s.mu.Unlock()

		s.log.Info("mockserver stopped")
		if s.logClose != nil {
			if err := s.logClose(); err != nil {
				errs = append(errs, err)
			}
		}
		close(s.done)
	})
	return errors.Join(errs...)
}

// closePersistence must be called with s.mu held.
func (s *Server) closePersistence() error {
	for _, off := range s.unlisten {
		off()
	}
	s.unlisten = nil
	if s.sql == nil {
		return nil
	}
	err := s.sql.Close()
	s.sql = nil
	return err
}

// stopSoon stops the server after the current reply has been written.
func (s *Server) stopSoon() {
	time.AfterFunc(stopGrace, func() {
		if err := s.Stop(); err != nil {
			s.log.Error("stop failed", "error", err)
		}
	})
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func joinPorts(ports []int) string {
	out := ""
	for i, p := range ports {
		if i > 0 {
			out += ","
		}
		out += strconv.Itoa(p)
	}
	return out
}
