package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/0x1a0b/mockserver-sub001/pkg/callback"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/requestlog"
	"github.com/0x1a0b/mockserver-sub001/pkg/template"
)

// DefaultCallbackTimeout bounds an object-callback round trip.
const DefaultCallbackTimeout = 20 * time.Second

var (
	// ErrUnknownCallback is returned for class callbacks that are not registered.
	ErrUnknownCallback = errors.New("unknown callback class")
	// ErrNoCallbackClient is returned when an object callback's client cannot be reached.
	ErrNoCallbackClient = errors.New("callback client not connected")
	// ErrUnsupportedAction is returned for expectations with no executable action.
	ErrUnsupportedAction = errors.New("unsupported action")
)

// ResponseSink is the connection side of a request. The dispatcher calls
// exactly one of its methods per request.
type ResponseSink interface {
	WriteResponse(resp *model.HTTPResponse) error
	ApplyFault(fault *model.HTTPError) error
}

// Expectations finds the expectation that answers a request.
type Expectations interface {
	FirstMatching(req *model.HTTPRequest) *model.Expectation
}

// Sender sends a request upstream. A nil target sends to the request's own
// socket address.
type Sender interface {
	Send(ctx context.Context, req *model.HTTPRequest, target *model.SocketAddress) (*model.HTTPResponse, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCallbacks sets the websocket callback registry for object callbacks.
func WithCallbacks(r *callback.Registry) Option {
	return func(d *Dispatcher) { d.callbacks = r }
}

// WithClassCallbacks sets the in-process callbacks for class callbacks.
func WithClassCallbacks(c *ClassCallbacks) Option {
	return func(d *Dispatcher) { d.classes = c }
}

// WithTemplates sets the template engine.
func WithTemplates(e *template.Engine) Option {
	return func(d *Dispatcher) { d.templates = e }
}

// WithEventLog sets where per-request entries are recorded.
func WithEventLog(l requestlog.Logger) Option {
	return func(d *Dispatcher) { d.events = l }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithCallbackTimeout bounds each wait on a callback client.
func WithCallbackTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.callbackTimeout = t
		}
	}
}

// WithProxyUnmatched forwards unmatched proxy traffic to its destination
// instead of answering 404.
func WithProxyUnmatched(enabled bool) Option {
	return func(d *Dispatcher) { d.proxyUnmatched = enabled }
}

// WithRemote forwards every unmatched request to a fixed upstream, proxied
// or not.
func WithRemote(target *model.SocketAddress) Option {
	return func(d *Dispatcher) { d.remote = target }
}

// Dispatcher executes expectation actions. It is safe for concurrent use;
// each call to Handle runs on the calling connection's goroutine.
type Dispatcher struct {
	store           Expectations
	client          Sender
	callbacks       *callback.Registry
	classes         *ClassCallbacks
	templates       *template.Engine
	events          requestlog.Logger
	log             *slog.Logger
	callbackTimeout time.Duration
	proxyUnmatched  bool
	remote          *model.SocketAddress
	now             func() time.Time
}

// New creates a Dispatcher.
func New(store Expectations, client Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:           store,
		client:          client,
		classes:         NewClassCallbacks(),
		templates:       template.New(),
		events:          discard{},
		log:             logging.Nop(),
		callbackTimeout: DefaultCallbackTimeout,
		proxyUnmatched:  true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ClassCallbacks returns the class-callback set for registration.
func (d *Dispatcher) ClassCallbacks() *ClassCallbacks {
	return d.classes
}

type discard struct{}

func (discard) Log(*requestlog.Entry) {}

// outcome is the terminal decision for one request.
type outcome struct {
	typ   requestlog.Type
	resp  *model.HTTPResponse
	fault *model.HTTPError
	err   error
	// forwarded is the request actually sent upstream, when different from
	// the inbound one.
	forwarded *model.HTTPRequest
}

// Handle answers req through sink. The returned error reports a failure to
// write to the sink or a cancelled context; the event log entry is written
// either way.
func (d *Dispatcher) Handle(ctx context.Context, sink ResponseSink, req *model.HTTPRequest) (err error) {
	start := d.now()
	entry := &requestlog.Entry{Request: req.Clone()}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic handling request",
				"method", req.Method.Value,
				"path", req.Path.Value,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			entry.Type = requestlog.TypeException
			entry.Error = fmt.Sprint(r)
			entry.Response = model.NotFound()
			err = sink.WriteResponse(entry.Response)
		}
		entry.DurationMs = d.now().Sub(start).Milliseconds()
		d.events.Log(entry)
	}()

	exp := d.store.FirstMatching(req)
	var o outcome
	if exp == nil {
		o = d.unmatched(ctx, req)
	} else {
		entry.ExpectationID = exp.ID
		entry.Action = exp.ActionType()
		if err := sleep(ctx, exp.ActionDelay()); err != nil {
			entry.Type = requestlog.TypeException
			entry.Error = err.Error()
			return err
		}
		o = d.execute(ctx, exp, req)
	}

	entry.Type = o.typ
	if o.err != nil {
		entry.Error = o.err.Error()
	}
	if o.forwarded != nil {
		entry.Message = "forwarded as " + o.forwarded.TargetURL()
	}

	if o.fault != nil {
		d.log.Debug("injecting fault", "expectation", entry.ExpectationID, "drop", o.fault.DropConnection)
		return sink.ApplyFault(o.fault)
	}
	if exp != nil && entry.Action != model.ActionResponse && o.resp.Delay != nil {
		if err := sleep(ctx, o.resp.Delay.Duration()); err != nil {
			entry.Type = requestlog.TypeException
			entry.Error = err.Error()
			return err
		}
	}
	entry.Response = o.resp.Clone()
	d.log.Debug("request handled",
		"method", req.Method.Value,
		"path", req.Path.Value,
		"expectation", entry.ExpectationID,
		"action", entry.Action,
		"status", o.resp.Status(),
	)
	return sink.WriteResponse(o.resp)
}

func (d *Dispatcher) execute(ctx context.Context, exp *model.Expectation, req *model.HTTPRequest) outcome {
	switch exp.ActionType() {
	case model.ActionResponse:
		return outcome{typ: requestlog.TypeExpectationResponse, resp: exp.HTTPResponse.Clone()}

	case model.ActionResponseTemplate:
		resp, err := d.templates.Response(exp.HTTPResponseTemplate.Template, req)
		if err != nil {
			return d.failed(exp, err)
		}
		return outcome{typ: requestlog.TypeTemplateGenerated, resp: resp}

	case model.ActionResponseClassCallback:
		name := exp.HTTPResponseClassCallback.CallbackClass
		cb, ok := d.classes.Response(name)
		if !ok {
			return d.failed(exp, fmt.Errorf("%w: %s", ErrUnknownCallback, name))
		}
		resp, err := cb.Handle(req.Clone())
		if err != nil {
			return d.failed(exp, fmt.Errorf("callback %s: %w", name, err))
		}
		return outcome{typ: requestlog.TypeExpectationResponse, resp: orNotFound(resp)}

	case model.ActionResponseObjectCallback:
		return d.responseObjectCallback(ctx, exp, req)

	case model.ActionForward:
		f := exp.HTTPForward
		target := &model.SocketAddress{Host: f.Host, Port: f.Port, Scheme: f.Scheme}
		return d.forward(ctx, req, target)

	case model.ActionForwardTemplate:
		out, err := d.templates.Request(exp.HTTPForwardTemplate.Template, req)
		if err != nil {
			return d.failed(exp, err)
		}
		return d.forward(ctx, inheritDestination(out, req), nil)

	case model.ActionForwardClassCallback:
		name := exp.HTTPForwardClassCallback.CallbackClass
		cb, ok := d.classes.Forward(name)
		if !ok {
			return d.failed(exp, fmt.Errorf("%w: %s", ErrUnknownCallback, name))
		}
		out, err := cb.Handle(req.Clone())
		if err != nil {
			return d.failed(exp, fmt.Errorf("callback %s: %w", name, err))
		}
		if out == nil {
			out = req
		}
		return d.forward(ctx, inheritDestination(out, req), nil)

	case model.ActionForwardObjectCallback:
		return d.forwardObjectCallback(ctx, exp, req)

	case model.ActionForwardReplace:
		return d.forward(ctx, Override(req, exp.HTTPOverrideForwardedRequest.HTTPRequest), nil)

	case model.ActionError:
		return outcome{typ: requestlog.TypeExpectationResponse, fault: exp.HTTPError}

	default:
		return d.failed(exp, fmt.Errorf("%w: expectation %s", ErrUnsupportedAction, exp.ID))
	}
}

// unmatched answers a request no expectation claimed.
func (d *Dispatcher) unmatched(ctx context.Context, req *model.HTTPRequest) outcome {
	if d.remote != nil {
		return d.forward(ctx, req, d.remote)
	}
	if d.proxyUnmatched && Proxied(ctx) {
		return d.forward(ctx, req, nil)
	}
	d.log.Debug("no expectation matched", "method", req.Method.Value, "path", req.Path.Value)
	return outcome{typ: requestlog.TypeExpectationNotMatched, resp: model.NotFound()}
}

// forward sends req upstream. Transport failures become a 502 carrying the
// error text.
func (d *Dispatcher) forward(ctx context.Context, req *model.HTTPRequest, target *model.SocketAddress) outcome {
	resp, err := d.client.Send(ctx, req, target)
	if err != nil {
		d.log.Error("forward failed", "url", req.TargetURL(), "error", err)
		return outcome{
			typ:  requestlog.TypeException,
			resp: model.Response(http.StatusBadGateway).WithBody(model.StringBody(err.Error())),
			err:  err,
		}
	}
	return outcome{typ: requestlog.TypeForwardedRequest, resp: resp, forwarded: req}
}

func (d *Dispatcher) responseObjectCallback(ctx context.Context, exp *model.Expectation, req *model.HTTPRequest) outcome {
	cb := exp.HTTPResponseObjectCallback
	if d.callbacks == nil {
		return d.failed(exp, ErrNoCallbackClient)
	}
	p := d.callbacks.RegisterResponseCallback(cb.ClientID)
	if !d.callbacks.SendClientMessage(ctx, cb.ClientID, p.ID, req, nil) {
		d.callbacks.Unregister(p.ID)
		return d.failed(exp, fmt.Errorf("%w: %s", ErrNoCallbackClient, cb.ClientID))
	}

	o := d.wait(ctx, p)
	if o.Err != nil {
		return d.failedWith(exp, o.Err, o.Response)
	}
	return outcome{typ: requestlog.TypeExpectationResponse, resp: orNotFound(o.Response)}
}

func (d *Dispatcher) forwardObjectCallback(ctx context.Context, exp *model.Expectation, req *model.HTTPRequest) outcome {
	cb := exp.HTTPForwardObjectCallback
	if d.callbacks == nil {
		return d.failed(exp, ErrNoCallbackClient)
	}
	p := d.callbacks.RegisterForwardCallback(cb.ClientID, cb.ResponseCallback)
	if !d.callbacks.SendClientMessage(ctx, cb.ClientID, p.ID, req, nil) {
		d.callbacks.Unregister(p.ID)
		return d.failed(exp, fmt.Errorf("%w: %s", ErrNoCallbackClient, cb.ClientID))
	}

	o := d.wait(ctx, p)
	if o.Err != nil {
		return d.failedWith(exp, o.Err, o.Response)
	}
	out := inheritDestination(o.Request, req)
	forwarded := d.forward(ctx, out, nil)
	if !cb.ResponseCallback {
		return forwarded
	}

	if !d.callbacks.SendClientMessage(ctx, cb.ClientID, p.ID, nil, forwarded.resp) {
		d.callbacks.Unregister(p.ID)
		return d.failed(exp, fmt.Errorf("%w: %s", ErrNoCallbackClient, cb.ClientID))
	}
	o = d.wait(ctx, p)
	if o.Err != nil {
		return d.failedWith(exp, o.Err, o.Response)
	}
	forwarded.resp = orNotFound(o.Response)
	return forwarded
}

func (d *Dispatcher) wait(ctx context.Context, p *callback.Pending) callback.Outcome {
	wctx, cancel := context.WithTimeout(ctx, d.callbackTimeout)
	defer cancel()
	return p.Wait(wctx)
}

func (d *Dispatcher) failed(exp *model.Expectation, err error) outcome {
	return d.failedWith(exp, err, nil)
}

func (d *Dispatcher) failedWith(exp *model.Expectation, err error, resp *model.HTTPResponse) outcome {
	d.log.Error("action failed", "expectation", exp.ID, "action", exp.ActionType(), "error", err)
	return outcome{typ: requestlog.TypeException, resp: orNotFound(resp), err: err}
}

func orNotFound(resp *model.HTTPResponse) *model.HTTPResponse {
	if resp == nil {
		return model.NotFound()
	}
	return resp
}

// inheritDestination fills in where out should be sent from the inbound
// request when a template or callback did not say.
func inheritDestination(out, inbound *model.HTTPRequest) *model.HTTPRequest {
	if out.SocketAddress != nil || out.Header("Host") != "" {
		return out
	}
	out = out.Clone()
	if host := inbound.Header("Host"); host != "" {
		out.Headers = out.Headers.With("Host", true, host)
	}
	if inbound.SocketAddress != nil {
		sa := *inbound.SocketAddress
		out.SocketAddress = &sa
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
