package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x1a0b/mockserver-sub001/pkg/config"
	"github.com/0x1a0b/mockserver-sub001/pkg/engine"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/requestlog"
)

func startEngine(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Ports = []int{0}
	cfg.LogLevel = "OFF"
	srv, err := engine.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return fmt.Sprintf("http://127.0.0.1:%d", srv.Ports()[0])
}

func fetch(t *testing.T, rawURL string) (int, string) {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()

	base := startEngine(t)
	c := New(base)
	ctx := context.Background()

	stored, err := c.Upsert(ctx, model.When(model.Request().WithMethod("GET").WithPath("/ping")).
		Respond(model.Response(http.StatusOK).WithBody(model.StringBody("pong"))))
	require.NoError(t, err)
	require.Len(t, stored, 1)

	status, body := fetch(t, base+"/ping")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pong", body)

	require.NoError(t, c.Verify(ctx, model.Request().WithPath("/ping"), requestlog.Exactly(1)))
	err = c.Verify(ctx, model.Request().WithPath("/ping"), requestlog.AtLeast(2))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Contains(t, verr.Message, "Request not found at least 2 times")

	require.NoError(t, c.VerifySequence(ctx, model.Request().WithPath("/ping")))

	reqs, err := c.Requests(ctx, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "/ping", reqs[0].Path.Value)

	pairs, err := c.RequestResponses(ctx, model.Request().WithPath("/ping"))
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, http.StatusOK, pairs[0].HTTPResponse.Status())

	active, err := c.ActiveExpectations(ctx, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, stored[0].ID, active[0].ID)

	logs, err := c.Logs(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	ports, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, ports, 1)

	require.NoError(t, c.ClearByID(ctx, stored[0].ID))
	active, err = c.ActiveExpectations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, c.Clear(ctx, nil, ClearLog))
	reqs, err = c.Requests(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	require.NoError(t, c.Reset(ctx))
}

func TestClient_InvalidExpectation(t *testing.T) {
	t.Parallel()

	c := New(startEngine(t))
	_, err := c.UpsertJSON(context.Background(), []byte(`{"httpRequest":{"path":"/x"}}`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_expectation", apiErr.ErrorCode)
}

func TestClient_ConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	err := New(base, WithTimeout(time.Second)).Reset(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "connection_error", apiErr.ErrorCode)
}

func TestClient_UnknownErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/mockserver/status", r.URL.Path)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Status(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unknown_error", apiErr.ErrorCode)
	assert.True(t, strings.Contains(apiErr.Message, "boom"))
}

func TestCallbackClient_ResponseCallback(t *testing.T) {
	t.Parallel()

	base := startEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cb := NewCallbackClient(base,
		WithClientID("responder"),
		WithResponseHandler(func(req *model.HTTPRequest) (*model.HTTPResponse, error) {
			return model.Response(http.StatusCreated).WithBody(model.StringBody("made " + req.Path.Value)), nil
		}),
	)
	id, err := cb.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "responder", id)
	assert.Equal(t, "responder", cb.ClientID())

	done := make(chan error, 1)
	go func() { done <- cb.Run(ctx) }()

	c := New(base)
	exp := model.When(model.Request().WithPath("/made"))
	exp.HTTPResponseObjectCallback = &model.HTTPObjectCallback{ClientID: id}
	_, err = c.Upsert(ctx, exp)
	require.NoError(t, err)

	status, body := fetch(t, base+"/made")
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "made /made", body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCallbackClient_ForwardCallbackWithOverride(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream saw "+r.URL.Path)
	}))
	defer upstream.Close()
	target := strings.TrimPrefix(upstream.URL, "http://")

	base := startEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cb := NewCallbackClient(base,
		WithForwardHandler(func(req *model.HTTPRequest) (*model.HTTPRequest, error) {
			out := req.Clone().WithPath("/rewritten")
			out.Headers = out.Headers.With("Host", true, target)
			out.SocketAddress = nil
			return out, nil
		}),
		WithOverrideHandler(func(resp *model.HTTPResponse) (*model.HTTPResponse, error) {
			return resp.WithHeader("X-Overridden", "yes"), nil
		}),
	)
	id, err := cb.Connect(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	go func() { _ = cb.Run(ctx) }()

	exp := model.When(model.Request().WithPath("/fwd"))
	exp.HTTPForwardObjectCallback = &model.HTTPObjectCallback{ClientID: id, ResponseCallback: true}
	_, err = New(base).Upsert(ctx, exp)
	require.NoError(t, err)

	resp, err := http.Get(base + "/fwd")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upstream saw /rewritten", string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Overridden"))
}

func TestCallbackClient_RunBeforeConnect(t *testing.T) {
	t.Parallel()

	err := NewCallbackClient("http://127.0.0.1:1").Run(context.Background())
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestNewCallbackClient_URL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ws://localhost:1080"+CallbackPath, NewCallbackClient("http://localhost:1080/").url)
	assert.Equal(t, "wss://localhost:1080"+CallbackPath, NewCallbackClient("https://localhost:1080").url)
}
