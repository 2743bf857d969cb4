package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// Default capacities.
const (
	DefaultMaxClients  = 100
	DefaultMaxPending  = 1000
	DefaultSendTimeout = 5 * time.Second
)

var (
	// ErrClientNotFound is returned when no channel is registered for a client ID.
	ErrClientNotFound = errors.New("callback client not found")
	// ErrClientDisconnected fails entries whose client went away.
	ErrClientDisconnected = errors.New("callback client disconnected")
	// ErrCallbackTimeout fails entries whose waiter gave up.
	ErrCallbackTimeout = errors.New("callback timed out")
	// ErrEvicted fails entries pushed out of a full registry.
	ErrEvicted = errors.New("pending callback evicted")
	// ErrCancelled fails entries removed by Unregister.
	ErrCancelled = errors.New("pending callback cancelled")
	// ErrClientError wraps an error reported by the client.
	ErrClientError = errors.New("callback client reported an error")
	// ErrUnexpectedMessage is returned for messages of the wrong kind.
	ErrUnexpectedMessage = errors.New("unexpected callback message")
)

// Channel is a live connection to a callback client.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Registry maps client IDs to channels and correlation IDs to waiters.
type Registry struct {
	mu      sync.RWMutex
	clients *boundedMap[Channel]
	pending *boundedMap[*Pending]

	sendTimeout time.Duration
	log         *slog.Logger
}

// Option configures a Registry.
type Option func(*registryConfig)

type registryConfig struct {
	maxClients  int
	maxPending  int
	sendTimeout time.Duration
	log         *slog.Logger
}

// WithMaxClients bounds the number of registered clients.
func WithMaxClients(n int) Option {
	return func(c *registryConfig) { c.maxClients = n }
}

// WithMaxPending bounds the number of outstanding correlation entries.
func WithMaxPending(n int) Option {
	return func(c *registryConfig) { c.maxPending = n }
}

// WithSendTimeout bounds a single push to a client.
func WithSendTimeout(d time.Duration) Option {
	return func(c *registryConfig) { c.sendTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *registryConfig) { c.log = log }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := registryConfig{
		maxClients:  DefaultMaxClients,
		maxPending:  DefaultMaxPending,
		sendTimeout: DefaultSendTimeout,
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxClients <= 0 {
		cfg.maxClients = DefaultMaxClients
	}
	if cfg.maxPending <= 0 {
		cfg.maxPending = DefaultMaxPending
	}
	if cfg.log == nil {
		cfg.log = logging.Nop()
	}
	return &Registry{
		clients:     newBoundedMap[Channel](cfg.maxClients),
		pending:     newBoundedMap[*Pending](cfg.maxPending),
		sendTimeout: cfg.sendTimeout,
		log:         cfg.log,
	}
}

// RegisterClient stores ch under id and sends the client its registration.
// A previous channel with the same id is closed; its pending entries stay
// registered since replies are routed by correlation ID. A client evicted to
// make room is treated as disconnected.
func (r *Registry) RegisterClient(ctx context.Context, id string, ch Channel) error {
	r.mu.Lock()
	evicted := r.clients.put(id, ch)
	r.mu.Unlock()

	for _, e := range evicted {
		if e.value != ch {
			_ = e.value.Close()
		}
		if e.key != id {
			r.log.Warn("callback client evicted", "clientId", e.key)
			r.failClient(e.key, ErrEvicted)
		}
	}
	r.log.Info("callback client registered", "clientId", id)

	msg, err := NewMessage(TypeClientIDRegistration, ClientIDRegistration{ClientID: id})
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, msg); err != nil {
		r.UnregisterClient(id, ch)
		return fmt.Errorf("failed to send registration: %w", err)
	}
	return nil
}

// UnregisterClient closes ch and fails every entry still waiting on id. It
// does nothing when id has since been registered with another channel, so a
// replaced connection cannot tear down its successor. It reports whether the
// client was removed.
func (r *Registry) UnregisterClient(id string, ch Channel) bool {
	r.mu.Lock()
	cur, ok := r.clients.get(id)
	if ok && cur == ch {
		r.clients.remove(id)
	}
	r.mu.Unlock()
	if !ok || cur != ch {
		return false
	}
	_ = ch.Close()
	failed := r.failClient(id, ErrClientDisconnected)
	r.log.Info("callback client unregistered", "clientId", id, "failedPending", failed)
	return true
}

// RegisterForwardCallback opens a correlation entry waiting for the client
// to return a request to forward. With responseOverride the entry then
// waits for the client to return the final response as well.
func (r *Registry) RegisterForwardCallback(clientID string, responseOverride bool) *Pending {
	return r.register(clientID, StateAwaitingForward, responseOverride)
}

// RegisterResponseCallback opens a correlation entry waiting for the client
// to return a response.
func (r *Registry) RegisterResponseCallback(clientID string) *Pending {
	return r.register(clientID, StateAwaitingResponseOverride, false)
}

func (r *Registry) register(clientID string, initial State, override bool) *Pending {
	p := newPending(r, uuid.NewString(), clientID, initial, override)

	r.mu.Lock()
	evicted := r.pending.put(p.ID, p)
	r.mu.Unlock()

	for _, e := range evicted {
		r.log.Warn("pending callback evicted", "correlationId", e.key, "clientId", e.value.ClientID)
		r.resolve(e.value, TypeError, failure(ErrEvicted))
	}
	r.log.Debug("pending callback registered", "correlationId", p.ID, "clientId", clientID, "state", initial)
	return p
}

// Unregister removes a correlation entry that will never be answered and
// fails its waiter. It reports whether the entry was still open.
func (r *Registry) Unregister(correlationID string) bool {
	r.mu.RLock()
	p, ok := r.pending.get(correlationID)
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.resolve(p, TypeError, failure(ErrCancelled))
}

// SendClientMessage pushes req, or resp when it is non-nil, to the client
// tagged with correlationID. It returns false when the client is unknown or
// the push fails; callers treat that as an immediate not-found.
func (r *Registry) SendClientMessage(ctx context.Context, clientID, correlationID string, req *model.HTTPRequest, resp *model.HTTPResponse) bool {
	r.mu.RLock()
	ch, ok := r.clients.get(clientID)
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("callback client not found", "clientId", clientID, "correlationId", correlationID)
		return false
	}

	var (
		msg Message
		err error
	)
	if resp != nil {
		msg, err = ResponseMessage(correlationID, resp)
	} else {
		msg, err = RequestMessage(correlationID, req)
	}
	if err != nil {
		r.log.Error("failed to encode callback message", "clientId", clientID, "error", err)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, msg); err != nil {
		r.log.Warn("failed to send to callback client", "clientId", clientID, "correlationId", correlationID, "error", err)
		return false
	}
	return true
}

// DispatchIncoming routes a message from a client to the entry named by its
// correlation ID. Unknown, duplicate and malformed messages are logged and
// dropped. It reports whether the message was delivered.
func (r *Registry) DispatchIncoming(msg Message) bool {
	id, err := msg.CorrelationID()
	if err != nil {
		r.log.Warn("dropping callback message", "type", msg.Type, "error", err)
		return false
	}
	if id == "" {
		r.log.Warn("dropping callback message without correlation id", "type", msg.Type)
		return false
	}

	r.mu.RLock()
	p, ok := r.pending.get(id)
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("no pending callback for correlation id", "type", msg.Type, "correlationId", id)
		return false
	}

	var o Outcome
	switch msg.Type {
	case TypeHTTPRequest:
		o.Request, err = msg.Request()
		if err == nil {
			o.Request.Headers = o.Request.Headers.Without(model.CorrelationIDHeader, true)
		}
	case TypeHTTPResponse:
		o.Response, err = msg.Response()
		if err == nil {
			o.Response.Headers = o.Response.Headers.Without(model.CorrelationIDHeader, true)
		}
	case TypeError:
		var ev ErrorValue
		_ = json.Unmarshal(msg.Value, &ev)
		o = failure(fmt.Errorf("%w: %s", ErrClientError, ev.Message))
	}
	if err != nil {
		r.log.Warn("dropping malformed callback message", "type", msg.Type, "correlationId", id, "error", err)
		return false
	}
	return r.resolve(p, msg.Type, o)
}

// ClientCount returns the number of registered clients.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients.len()
}

// PendingCount returns the number of open correlation entries.
func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending.len()
}

// HasClient reports whether id is registered.
func (r *Registry) HasClient(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients.get(id)
	return ok
}

// Close disconnects every client and fails every open entry.
func (r *Registry) Close() {
	r.mu.Lock()
	clients := r.clients
	pending := r.pending.values()
	r.clients = newBoundedMap[Channel](clients.maxSize)
	r.mu.Unlock()

	for _, ch := range clients.values() {
		_ = ch.Close()
	}
	for _, p := range pending {
		r.resolve(p, TypeError, failure(ErrClientDisconnected))
	}
}

// resolve advances p for a delivery of kind t and hands o to the waiter.
// Entries reaching Done are removed.
func (r *Registry) resolve(p *Pending, t MessageType, o Outcome) bool {
	next, ok := p.advance(t)
	if !ok {
		r.log.Warn("dropping callback delivery", "correlationId", p.ID, "type", t, "state", next)
		return false
	}
	if next == StateDone {
		r.mu.Lock()
		if cur, ok := r.pending.get(p.ID); ok && cur == p {
			r.pending.remove(p.ID)
		}
		r.mu.Unlock()
	}
	p.ch <- o
	r.log.Debug("callback delivered", "correlationId", p.ID, "type", t, "state", next)
	return true
}

func (r *Registry) fail(p *Pending, err error) {
	r.resolve(p, TypeError, failure(err))
}

func (r *Registry) failClient(clientID string, err error) int {
	r.mu.RLock()
	var waiting []*Pending
	for _, p := range r.pending.values() {
		if p.ClientID == clientID {
			waiting = append(waiting, p)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, p := range waiting {
		if r.resolve(p, TypeError, failure(err)) {
			n++
		}
	}
	return n
}

func failure(err error) Outcome {
	return Outcome{Response: model.NotFound(), Err: err}
}
