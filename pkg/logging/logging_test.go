package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Level
	}{
		{"trace", LevelTrace},
		{"FINEST", LevelTrace},
		{"debug", LevelDebug},
		{"Info", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{"WARN", LevelWarn},
		{"error", LevelError},
		{" off ", LevelOff},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatText, ParseFormat("text"))
	assert.Equal(t, FormatText, ParseFormat("xml"))
}

func TestNew_JSONWithComponent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, closeFn := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})
	defer func() { _ = closeFn() }()

	Component(log, "store").Debug("expectation added", "id", "e1")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "expectation added", rec["msg"])
	assert.Equal(t, "store", rec["component"])
	assert.Equal(t, "e1", rec["id"])
}

func TestNew_TraceLevelName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, _ := New(Config{Level: LevelTrace, Output: &buf})
	log.Log(context.Background(), LevelTrace, "wire bytes")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestNew_Off(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, _ := New(Config{Level: LevelOff, Output: &buf})
	log.Error("nothing")
	assert.Empty(t, buf.String())
	assert.NotNil(t, Component(nil, "x"))
}

func TestLokiHandler_PushesSharedBatch(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		lines []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var push lokiPush
		if err := json.Unmarshal(body, &push); err == nil {
			mu.Lock()
			for _, s := range push.Streams {
				assert.Equal(t, "mockserver", s.Stream["job"])
				assert.Equal(t, "test", s.Stream["env"])
				for _, v := range s.Values {
					lines = append(lines, v[1])
				}
			}
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewLokiHandler(srv.URL, WithLokiLabels(map[string]string{"env": "test"}), WithLokiLevel(LevelDebug))
	log := slog.New(h)
	log.With("component", "engine").Info("started", "port", 1080)
	log.WithGroup("req").Debug("matched", "path", "/a")
	log.Log(context.Background(), LevelTrace, "dropped")
	require.NoError(t, h.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"component":"engine"`)
	assert.Contains(t, lines[0], `"port":1080`)
	assert.True(t, strings.Contains(lines[1], `"req.path":"/a"`))
}

func TestLokiHandler_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	h := NewLokiHandler(srv.URL)
	slog.New(h).Info("x")
	assert.Error(t, h.Flush())
	assert.NoError(t, h.Close())
}
