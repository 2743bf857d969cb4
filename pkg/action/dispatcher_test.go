package action

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x1a0b/mockserver-sub001/internal/matching"
	"github.com/0x1a0b/mockserver-sub001/pkg/callback"
	"github.com/0x1a0b/mockserver-sub001/pkg/expectation"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/requestlog"
)

type recordingSink struct {
	mu     sync.Mutex
	resp   *model.HTTPResponse
	fault  *model.HTTPError
	writes int
}

func (s *recordingSink) WriteResponse(resp *model.HTTPResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resp = resp
	s.writes++
	return nil
}

func (s *recordingSink) ApplyFault(fault *model.HTTPError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
	s.writes++
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []*model.HTTPRequest
	target []*model.SocketAddress
	resp   *model.HTTPResponse
	err    error
}

func (f *fakeSender) Send(_ context.Context, req *model.HTTPRequest, target *model.SocketAddress) (*model.HTTPResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	f.target = append(f.target, target)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp.Clone(), nil
	}
	return model.Response(http.StatusOK).WithBody(model.StringBody("upstream")), nil
}

// replyingChannel plays a websocket callback client.
type replyingChannel struct {
	reg   *callback.Registry
	reply func(msg callback.Message) (callback.Message, bool)
}

func (c *replyingChannel) Send(_ context.Context, msg callback.Message) error {
	if msg.Type == callback.TypeClientIDRegistration || c.reply == nil {
		return nil
	}
	if out, ok := c.reply(msg); ok {
		go c.reg.DispatchIncoming(out)
	}
	return nil
}

func (c *replyingChannel) Close() error { return nil }

type fixture struct {
	store  *expectation.Store
	sender *fakeSender
	events *requestlog.Memory
	reg    *callback.Registry
	d      *Dispatcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	m := matching.New()
	f := &fixture{
		store:  expectation.NewStore(expectation.WithMatcher(m)),
		sender: &fakeSender{},
		events: requestlog.NewMemory(m),
		reg:    callback.NewRegistry(),
	}
	opts = append([]Option{WithEventLog(f.events), WithCallbacks(f.reg)}, opts...)
	f.d = New(f.store, f.sender, opts...)
	return f
}

func (f *fixture) add(t *testing.T, exps ...*model.Expectation) {
	t.Helper()
	_, err := f.store.Add(expectation.CauseAPI, exps...)
	require.NoError(t, err)
}

func (f *fixture) handle(t *testing.T, ctx context.Context, req *model.HTTPRequest) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	require.NoError(t, f.d.Handle(ctx, sink, req))
	assert.Equal(t, 1, sink.writes, "exactly one answer per request")
	return sink
}

func (f *fixture) lastEntry(t *testing.T) *requestlog.Entry {
	t.Helper()
	entries := f.events.Entries(nil)
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

func get(path string) *model.HTTPRequest {
	return model.Request().WithMethod("GET").WithPath(path).WithHeader("Host", "localhost:1080")
}

func TestDispatcher_StaticResponse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, model.When(model.Request().WithPath("/hello")).
		Respond(model.Response(201).WithHeader("X-Mock", "yes").WithBody(model.StringBody("hi"))))

	sink := f.handle(t, context.Background(), get("/hello"))
	assert.Equal(t, 201, sink.resp.Status())
	assert.Equal(t, "yes", sink.resp.Header("X-Mock"))
	assert.Equal(t, "hi", string(sink.resp.BodyBytes()))

	e := f.lastEntry(t)
	assert.Equal(t, requestlog.TypeExpectationResponse, e.Type)
	assert.Equal(t, model.ActionResponse, e.Action)
	assert.NotEmpty(t, e.ExpectationID)
}

func TestDispatcher_EchoTemplate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, &model.Expectation{
		HTTPRequest: model.Request().WithMethod("POST").WithPath("/my/echo"),
		HTTPResponseTemplate: &model.HTTPTemplate{
			TemplateType: model.TemplateExpr,
			Template:     `{statusCode: 200, body: request.body}`,
		},
	})

	req := model.Request().WithMethod("POST").WithPath("/my/echo").WithBody(model.StringBody("hello"))
	sink := f.handle(t, context.Background(), req)
	assert.Equal(t, 200, sink.resp.Status())
	assert.Equal(t, "hello", string(sink.resp.BodyBytes()))
	assert.Equal(t, requestlog.TypeTemplateGenerated, f.lastEntry(t).Type)
}

func TestDispatcher_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sink := f.handle(t, context.Background(), get("/missing"))
	assert.Equal(t, 404, sink.resp.Status())
	assert.Empty(t, sink.resp.BodyBytes())
	assert.Equal(t, requestlog.TypeExpectationNotMatched, f.lastEntry(t).Type)
	assert.Empty(t, f.sender.sent)
}

func TestDispatcher_TimesExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, model.When(model.Request().WithPath("/once")).WithTimes(model.Once()).Respond(model.Response(200)))

	assert.Equal(t, 200, f.handle(t, context.Background(), get("/once")).resp.Status())
	assert.Equal(t, 404, f.handle(t, context.Background(), get("/once")).resp.Status())
	assert.Len(t, f.events.Entries(nil), 2)
}

func TestDispatcher_Forward(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, model.When(model.Request().WithPath("/api")).
		Forward(&model.HTTPForward{Host: "backend", Port: 8080, Scheme: model.SchemeHTTP}))

	sink := f.handle(t, context.Background(), get("/api"))
	assert.Equal(t, 200, sink.resp.Status())
	assert.Equal(t, "upstream", string(sink.resp.BodyBytes()))

	require.Len(t, f.sender.target, 1)
	assert.Equal(t, &model.SocketAddress{Host: "backend", Port: 8080, Scheme: model.SchemeHTTP}, f.sender.target[0])
	assert.Equal(t, requestlog.TypeForwardedRequest, f.lastEntry(t).Type)
}

func TestDispatcher_ForwardFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sender.err = errors.New("connection refused")
	f.add(t, model.When(model.Request().WithPath("/api")).Forward(&model.HTTPForward{Host: "backend", Port: 1}))

	sink := f.handle(t, context.Background(), get("/api"))
	assert.Equal(t, http.StatusBadGateway, sink.resp.Status())
	assert.Contains(t, string(sink.resp.BodyBytes()), "connection refused")

	e := f.lastEntry(t)
	assert.Equal(t, requestlog.TypeException, e.Type)
	assert.Contains(t, e.Error, "connection refused")
}

func TestDispatcher_OverrideForwardedRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, &model.Expectation{
		HTTPRequest: model.Request().WithPath("/old"),
		HTTPOverrideForwardedRequest: &model.HTTPOverrideForwardedRequest{
			HTTPRequest: model.Request().WithPath("/new").WithHeader("X-Env", "test").WithHeader("Host", "other:9090"),
		},
	})

	f.handle(t, context.Background(), get("/old").WithHeader("X-Env", "prod").WithHeader("X-Keep", "1"))
	require.Len(t, f.sender.sent, 1)
	sent := f.sender.sent[0]
	assert.Equal(t, "/new", sent.Path.Value)
	assert.Equal(t, []string{"test"}, sent.Headers.Get("X-Env", true))
	assert.Equal(t, "1", sent.Header("X-Keep"))
	assert.Equal(t, "other:9090", sent.Header("Host"))
	assert.Nil(t, f.sender.target[0])
}

func TestOverride(t *testing.T) {
	t.Parallel()

	in := get("/a").WithQuery("q", "1").WithCookie("c", "1")
	out := Override(in, &model.HTTPRequest{
		Method:        model.String("PUT"),
		SocketAddress: &model.SocketAddress{Host: "elsewhere", Port: 443, Scheme: model.SchemeHTTPS},
		Body:          model.StringBody("x"),
	})
	assert.Equal(t, "PUT", out.Method.Value)
	assert.Equal(t, "/a", out.Path.Value)
	assert.Equal(t, "1", out.QueryStringParameters.First("q", false))
	assert.Empty(t, out.Header("Host"), "an explicit socket address drops the inbound host")
	assert.Equal(t, "https://elsewhere:443/a", out.TargetURL())
	assert.Equal(t, "GET", in.Method.Value, "inbound request is not modified")

	same := Override(in, nil)
	assert.NotSame(t, in, same)
	assert.Equal(t, "/a", same.Path.Value)
}

func TestDispatcher_ClassCallbacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.d.ClassCallbacks().RegisterResponse("echo", ResponseCallbackFunc(func(req *model.HTTPRequest) (*model.HTTPResponse, error) {
		return model.Response(200).WithBody(model.StringBody(req.Path.Value)), nil
	}))
	f.d.ClassCallbacks().RegisterResponse("boom", ResponseCallbackFunc(func(*model.HTTPRequest) (*model.HTTPResponse, error) {
		panic("callback exploded")
	}))
	f.d.ClassCallbacks().RegisterForward("reroute", ForwardCallbackFunc(func(req *model.HTTPRequest) (*model.HTTPRequest, error) {
		return req.WithPath("/rerouted"), nil
	}))
	for _, path := range []string{"echo", "boom", "missing"} {
		f.add(t, &model.Expectation{
			HTTPRequest:               model.Request().WithPath("/" + path),
			HTTPResponseClassCallback: &model.HTTPClassCallback{CallbackClass: path},
		})
	}
	f.add(t, &model.Expectation{
		HTTPRequest:              model.Request().WithPath("/fwd"),
		HTTPForwardClassCallback: &model.HTTPClassCallback{CallbackClass: "reroute"},
	})

	sink := f.handle(t, context.Background(), get("/echo"))
	assert.Equal(t, "/echo", string(sink.resp.BodyBytes()))

	sink = f.handle(t, context.Background(), get("/boom"))
	assert.Equal(t, 404, sink.resp.Status())
	e := f.lastEntry(t)
	assert.Equal(t, requestlog.TypeException, e.Type)
	assert.Contains(t, e.Error, "callback exploded")

	sink = f.handle(t, context.Background(), get("/missing"))
	assert.Equal(t, 404, sink.resp.Status())
	assert.Contains(t, f.lastEntry(t).Error, ErrUnknownCallback.Error())

	f.handle(t, context.Background(), get("/fwd"))
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "/rerouted", f.sender.sent[0].Path.Value)
	assert.Equal(t, "localhost:1080", f.sender.sent[0].Header("Host"))
}

func TestDispatcher_ErrorAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, &model.Expectation{
		HTTPRequest: model.Request().WithPath("/drop"),
		HTTPError:   &model.HTTPError{DropConnection: true, ResponseBytes: []byte("garbage")},
	})

	sink := f.handle(t, context.Background(), get("/drop"))
	require.NotNil(t, sink.fault)
	assert.True(t, sink.fault.DropConnection)
	assert.Equal(t, []byte("garbage"), sink.fault.ResponseBytes)
	assert.Nil(t, sink.resp)
	assert.Equal(t, model.ActionError, f.lastEntry(t).Action)
}

func TestDispatcher_DelayDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t,
		model.When(model.Request().WithPath("/slow")).Respond(model.Response(200).WithDelay(model.DelayOf(200*time.Millisecond))),
		model.When(model.Request().WithPath("/fast")).Respond(model.Response(200)),
	)

	slowDone := make(chan time.Time, 1)
	start := time.Now()
	go func() {
		sink := &recordingSink{}
		_ = f.d.Handle(context.Background(), sink, get("/slow"))
		slowDone <- time.Now()
	}()

	f.handle(t, context.Background(), get("/fast"))
	fastAt := time.Now()

	slowAt := <-slowDone
	assert.True(t, fastAt.Before(slowAt))
	assert.GreaterOrEqual(t, slowAt.Sub(start), 200*time.Millisecond)
}

func TestDispatcher_DelayCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, model.When(model.Request().WithPath("/slow")).Respond(model.Response(200).WithDelay(model.DelayOf(time.Minute))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sink := &recordingSink{}
	err := f.d.Handle(ctx, sink, get("/slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, sink.writes)
	assert.Equal(t, requestlog.TypeException, f.lastEntry(t).Type)
}

func TestDispatcher_ResponseObjectCallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ch := &replyingChannel{reg: f.reg, reply: func(msg callback.Message) (callback.Message, bool) {
		req, err := msg.Request()
		require.NoError(t, err)
		id, err := msg.CorrelationID()
		require.NoError(t, err)
		out, err := callback.ResponseMessage(id, model.Response(202).WithBody(model.StringBody("from client "+req.Path.Value)))
		require.NoError(t, err)
		return out, true
	}}
	require.NoError(t, f.reg.RegisterClient(context.Background(), "client-a", ch))
	f.add(t,
		&model.Expectation{
			HTTPRequest:                model.Request().WithPath("/cb"),
			HTTPResponseObjectCallback: &model.HTTPObjectCallback{ClientID: "client-a"},
		},
		&model.Expectation{
			HTTPRequest:                model.Request().WithPath("/gone"),
			HTTPResponseObjectCallback: &model.HTTPObjectCallback{ClientID: "nobody"},
		},
	)

	sink := f.handle(t, context.Background(), get("/cb"))
	assert.Equal(t, 202, sink.resp.Status())
	assert.Equal(t, "from client /cb", string(sink.resp.BodyBytes()))
	assert.Equal(t, 0, f.reg.PendingCount())

	sink = f.handle(t, context.Background(), get("/gone"))
	assert.Equal(t, 404, sink.resp.Status())
	assert.Equal(t, 0, f.reg.PendingCount())
}

func TestDispatcher_ForwardObjectCallbackWithOverride(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ch := &replyingChannel{reg: f.reg, reply: func(msg callback.Message) (callback.Message, bool) {
		id, err := msg.CorrelationID()
		require.NoError(t, err)
		switch msg.Type {
		case callback.TypeHTTPRequest:
			req, err := msg.Request()
			require.NoError(t, err)
			out, err := callback.RequestMessage(id, req.WithHeader("X-Callback", "seen"))
			require.NoError(t, err)
			return out, true
		case callback.TypeHTTPResponse:
			resp, err := msg.Response()
			require.NoError(t, err)
			out, err := callback.ResponseMessage(id, model.Response(299).WithBody(model.StringBody("override:"+string(resp.BodyBytes()))))
			require.NoError(t, err)
			return out, true
		}
		return callback.Message{}, false
	}}
	require.NoError(t, f.reg.RegisterClient(context.Background(), "client-b", ch))
	f.add(t, &model.Expectation{
		HTTPRequest:               model.Request().WithPath("/fwdcb"),
		HTTPForwardObjectCallback: &model.HTTPObjectCallback{ClientID: "client-b", ResponseCallback: true},
	})

	sink := f.handle(t, context.Background(), get("/fwdcb"))
	assert.Equal(t, 299, sink.resp.Status())
	assert.Equal(t, "override:upstream", string(sink.resp.BodyBytes()))

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "seen", f.sender.sent[0].Header("X-Callback"))
	assert.Empty(t, f.sender.sent[0].Header(model.CorrelationIDHeader))
	assert.Equal(t, 0, f.reg.PendingCount())
}

func TestDispatcher_ObjectCallbackTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithCallbackTimeout(20*time.Millisecond))
	require.NoError(t, f.reg.RegisterClient(context.Background(), "silent", &replyingChannel{reg: f.reg}))
	f.add(t, &model.Expectation{
		HTTPRequest:                model.Request().WithPath("/wait"),
		HTTPResponseObjectCallback: &model.HTTPObjectCallback{ClientID: "silent"},
	})

	sink := f.handle(t, context.Background(), get("/wait"))
	assert.Equal(t, 404, sink.resp.Status())
	e := f.lastEntry(t)
	assert.Equal(t, requestlog.TypeException, e.Type)
	assert.Contains(t, e.Error, callback.ErrCallbackTimeout.Error())
	assert.Equal(t, 0, f.reg.PendingCount())
}

func TestDispatcher_ProxyUnmatched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sink := f.handle(t, WithProxied(context.Background()), get("/anything"))
	assert.Equal(t, "upstream", string(sink.resp.BodyBytes()))
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, requestlog.TypeForwardedRequest, f.lastEntry(t).Type)

	off := newFixture(t, WithProxyUnmatched(false))
	sink = off.handle(t, WithProxied(context.Background()), get("/anything"))
	assert.Equal(t, 404, sink.resp.Status())
	assert.Empty(t, off.sender.sent)

	assert.False(t, Proxied(context.Background()))
}

func TestDispatcher_RemoteReceivesUnmatched(t *testing.T) {
	t.Parallel()

	remote := &model.SocketAddress{Host: "backend.internal", Port: 8080, Scheme: model.SchemeHTTP}
	f := newFixture(t, WithRemote(remote))
	f.add(t, model.When(get("/mocked")).Respond(model.Response(201)))

	sink := f.handle(t, context.Background(), get("/other"))
	assert.Equal(t, "upstream", string(sink.resp.BodyBytes()))
	require.Len(t, f.sender.target, 1)
	assert.Equal(t, remote, f.sender.target[0])

	sink = f.handle(t, context.Background(), get("/mocked"))
	assert.Equal(t, 201, sink.resp.Status())
	assert.Len(t, f.sender.sent, 1)
}
