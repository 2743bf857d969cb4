package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0x1a0b/mockserver-sub001/pkg/callback"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// CallbackPath is the server's websocket callback endpoint.
const CallbackPath = "/_mockserver_callback_websocket"

// ClientIDHeader asks the server for a specific client ID.
const ClientIDHeader = "X-Client-Id"

// ErrNotConnected is returned by Run before Connect succeeds.
var ErrNotConnected = errors.New("callback client not connected")

// ErrNoHandler is reported to the server when a message has no handler.
var ErrNoHandler = errors.New("no handler for callback")

// ResponseHandler answers a request routed by an httpResponseObjectCallback.
type ResponseHandler func(req *model.HTTPRequest) (*model.HTTPResponse, error)

// ForwardHandler rewrites a request routed by an httpForwardObjectCallback.
type ForwardHandler func(req *model.HTTPRequest) (*model.HTTPRequest, error)

// OverrideHandler rewrites the upstream response of a forward callback that
// asked for a response override.
type OverrideHandler func(resp *model.HTTPResponse) (*model.HTTPResponse, error)

// CallbackClient serves object callbacks over a websocket. Register either a
// response handler or a forward handler; a client ID carries one kind.
type CallbackClient struct {
	url       string
	requested string
	dialer    websocket.Dialer
	log       *slog.Logger

	response ResponseHandler
	forward  ForwardHandler
	override OverrideHandler

	mu       sync.Mutex
	conn     *websocket.Conn
	clientID string
	writeMu  sync.Mutex
}

// CallbackOption configures a CallbackClient.
type CallbackOption func(*CallbackClient)

// WithClientID asks the server to register this client under id.
func WithClientID(id string) CallbackOption {
	return func(c *CallbackClient) { c.requested = id }
}

// WithResponseHandler answers response callbacks.
func WithResponseHandler(h ResponseHandler) CallbackOption {
	return func(c *CallbackClient) { c.response = h }
}

// WithForwardHandler answers forward callbacks.
func WithForwardHandler(h ForwardHandler) CallbackOption {
	return func(c *CallbackClient) { c.forward = h }
}

// WithOverrideHandler answers the response half of forward callbacks. Without
// one the upstream response is returned unchanged.
func WithOverrideHandler(h OverrideHandler) CallbackOption {
	return func(c *CallbackClient) { c.override = h }
}

// WithTLSConfig sets the TLS configuration for wss:// servers.
func WithTLSConfig(cfg *tls.Config) CallbackOption {
	return func(c *CallbackClient) { c.dialer.TLSClientConfig = cfg }
}

// WithCallbackLogger sets the logger.
func WithCallbackLogger(log *slog.Logger) CallbackOption {
	return func(c *CallbackClient) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCallbackClient creates a callback client for the server at baseURL.
func NewCallbackClient(baseURL string, opts ...CallbackOption) *CallbackClient {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	c := &CallbackClient{
		url:    u + CallbackPath,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the websocket and waits for the server to assign a client
// ID, which it returns.
func (c *CallbackClient) Connect(ctx context.Context) (string, error) {
	header := http.Header{}
	if c.requested != "" {
		header.Set(ClientIDHeader, c.requested)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("connection failed: %w (HTTP %d)", err, resp.StatusCode)
		}
		return "", fmt.Errorf("connection failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var msg callback.Message
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("read registration: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if msg.Type != callback.TypeClientIDRegistration {
		_ = conn.Close()
		return "", fmt.Errorf("%w: expected %s, got %s", callback.ErrUnexpectedMessage, callback.TypeClientIDRegistration, msg.Type)
	}
	var reg callback.ClientIDRegistration
	if err := json.Unmarshal(msg.Value, &reg); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("decode registration: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.clientID = reg.ClientID
	c.mu.Unlock()
	c.log.Info("callback client registered", "clientId", reg.ClientID)
	return reg.ClientID, nil
}

// ClientID returns the ID assigned by the server.
func (c *CallbackClient) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Run answers callback messages until ctx is done or the connection closes.
// Each message is handled on its own goroutine.
func (c *CallbackClient) Run(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		var msg callback.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read callback: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.handle(conn, msg)
		}()
	}
}

func (c *CallbackClient) handle(conn *websocket.Conn, msg callback.Message) {
	id, err := msg.CorrelationID()
	if err != nil {
		c.log.Warn("dropping callback message", "type", msg.Type, "error", err)
		return
	}

	reply, err := c.answer(id, msg)
	if err != nil {
		c.log.Warn("callback handler failed", "correlationId", id, "error", err)
		if reply, err = callback.ErrorMessage(id, err.Error()); err != nil {
			return
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(reply); err != nil {
		c.log.Warn("callback reply failed", "correlationId", id, "error", err)
	}
}

func (c *CallbackClient) answer(id string, msg callback.Message) (callback.Message, error) {
	switch msg.Type {
	case callback.TypeHTTPRequest:
		req, err := msg.Request()
		if err != nil {
			return callback.Message{}, err
		}
		req.Headers = req.Headers.Without(model.CorrelationIDHeader, true)
		switch {
		case c.forward != nil:
			out, err := c.forward(req)
			if err != nil {
				return callback.Message{}, err
			}
			return callback.RequestMessage(id, out)
		case c.response != nil:
			out, err := c.response(req)
			if err != nil {
				return callback.Message{}, err
			}
			return callback.ResponseMessage(id, out)
		}
		return callback.Message{}, ErrNoHandler
	case callback.TypeHTTPResponse:
		resp, err := msg.Response()
		if err != nil {
			return callback.Message{}, err
		}
		resp.Headers = resp.Headers.Without(model.CorrelationIDHeader, true)
		if c.override != nil {
			if resp, err = c.override(resp); err != nil {
				return callback.Message{}, err
			}
		}
		return callback.ResponseMessage(id, resp)
	default:
		return callback.Message{}, fmt.Errorf("%w: %s", callback.ErrUnexpectedMessage, msg.Type)
	}
}

// Close closes the websocket.
func (c *CallbackClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
