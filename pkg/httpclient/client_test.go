package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

func targetOf(t *testing.T, rawURL string) *model.SocketAddress {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &model.SocketAddress{Host: host, Port: port, Scheme: model.SchemeHTTP}
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	c, err := New(Options{})
	require.NoError(t, err)

	req := model.Request().
		WithMethod("POST").
		WithPath("/p").
		WithQuery("q", "1").
		WithHeader("Host", "original.example").
		WithHeader("X-Test", "v").
		WithBody(model.StringBody("hello"))

	target := targetOf(t, srv.URL)
	resp, err := c.Send(context.Background(), req, target)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.Status())
	assert.Equal(t, "echo:hello", string(resp.BodyBytes()))
	assert.Equal(t, "yes", resp.Header("X-Upstream"))
	got := <-seen
	assert.Equal(t, net.JoinHostPort(target.Host, strconv.Itoa(target.Port)), got.Host)
	assert.Equal(t, "q=1", got.URL.RawQuery)
	assert.Equal(t, "v", got.Header.Get("X-Test"))
}

func TestClient_DoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	c, err := New(Options{})
	require.NoError(t, err)
	resp, err := c.Send(context.Background(), model.Request().WithMethod("GET").WithPath("/"), targetOf(t, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status())
	assert.Equal(t, "/elsewhere", resp.Header("Location"))
}

func TestClient_TransportError(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c, err := New(Options{})
	require.NoError(t, err)
	_, err = c.Send(context.Background(), model.Request().WithMethod("GET").WithPath("/"), targetOf(t, "http://"+addr))
	assert.Error(t, err)
}

func TestClient_HTTPUpstreamProxy(t *testing.T) {
	t.Parallel()

	proxied := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied <- r.URL.String()
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	c, err := New(Options{UpstreamProxy: upstream.URL})
	require.NoError(t, err)

	target := &model.SocketAddress{Host: "service.internal", Port: 8081, Scheme: model.SchemeHTTP}
	resp, err := c.Send(context.Background(), model.Request().WithMethod("GET").WithPath("/x"), target)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status())
	assert.Equal(t, "http://service.internal:8081/x", <-proxied)
}

func TestNew_RejectsUnknownProxyScheme(t *testing.T) {
	t.Parallel()

	_, err := New(Options{UpstreamProxy: "ftp://proxy:21"})
	assert.ErrorIs(t, err, ErrUnsupportedProxy)

	_, err = New(Options{UpstreamProxy: "socks5://127.0.0.1:1080"})
	assert.NoError(t, err)
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	plain := []byte(`{"hello":"world"}`)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, err = bw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{name: "gzip", encoding: "gzip", body: gz.Bytes()},
		{name: "brotli", encoding: "br", body: br.Bytes()},
		{name: "identity", encoding: "", body: plain},
		{name: "unknown", encoding: "zstd-ish", body: plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeBody(tt.encoding, tt.body)
			require.NoError(t, err)
			assert.Equal(t, plain, got)
		})
	}

	_, err = DecodeBody("gzip", []byte("not gzip"))
	assert.Error(t, err)
}
