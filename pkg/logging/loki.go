package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Loki defaults.
const (
	DefaultLokiBatchSize     = 100
	DefaultLokiFlushInterval = 5 * time.Second
)

// LokiHandler is a slog.Handler that batches records and pushes them to a
// Loki push endpoint. Handlers derived through WithAttrs and WithGroup share
// one batch.
type LokiHandler struct {
	sink   *lokiSink
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

type lokiSink struct {
	url      string
	labels   map[string]string
	client   *http.Client
	size     int
	interval time.Duration

	mu    sync.Mutex
	batch [][]string
	timer *time.Timer
}

// LokiOption configures a LokiHandler.
type LokiOption func(*LokiHandler)

// WithLokiLabels adds stream labels.
func WithLokiLabels(labels map[string]string) LokiOption {
	return func(h *LokiHandler) {
		for k, v := range labels {
			h.sink.labels[k] = v
		}
	}
}

// WithLokiLevel sets the minimum level shipped.
func WithLokiLevel(level slog.Level) LokiOption {
	return func(h *LokiHandler) { h.level = level }
}

// WithLokiBatchSize sets how many records trigger an early push.
func WithLokiBatchSize(size int) LokiOption {
	return func(h *LokiHandler) {
		if size > 0 {
			h.sink.size = size
		}
	}
}

// WithLokiFlushInterval sets the periodic push interval.
func WithLokiFlushInterval(d time.Duration) LokiOption {
	return func(h *LokiHandler) {
		if d > 0 {
			h.sink.interval = d
		}
	}
}

// WithLokiClient sets the HTTP client used for pushes.
func WithLokiClient(c *http.Client) LokiOption {
	return func(h *LokiHandler) {
		if c != nil {
			h.sink.client = c
		}
	}
}

// NewLokiHandler creates a handler pushing to url, for example
// http://localhost:3100/loki/api/v1/push.
func NewLokiHandler(url string, opts ...LokiOption) *LokiHandler {
	h := &LokiHandler{
		sink: &lokiSink{
			url:      url,
			labels:   map[string]string{"job": "mockserver"},
			client:   &http.Client{Timeout: 5 * time.Second},
			size:     DefaultLokiBatchSize,
			interval: DefaultLokiFlushInterval,
		},
		level: slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(h)
	}
	s := h.sink
	s.timer = time.AfterFunc(s.interval, func() {
		_ = s.flush(context.Background())
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Reset(s.interval)
		}
		s.mu.Unlock()
	})
	return h
}

func (h *LokiHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *LokiHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]interface{}{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[h.prefix+a.Key] = a.Value.Any()
		return true
	})
	line, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode loki line: %w", err)
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	s := h.sink
	s.mu.Lock()
	s.batch = append(s.batch, []string{strconv.FormatInt(ts.UnixNano(), 10), string(line)})
	full := len(s.batch) >= s.size
	s.mu.Unlock()

	if full {
		go func() { _ = s.flush(context.Background()) }()
	}
	return nil
}

func (h *LokiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	out.attrs = append(out.attrs, h.attrs...)
	for _, a := range attrs {
		out.attrs = append(out.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &out
}

func (h *LokiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.prefix = h.prefix + name + "."
	return &out
}

// Flush pushes buffered records now.
func (h *LokiHandler) Flush() error {
	return h.sink.flush(context.Background())
}

// Close stops the periodic push and flushes what remains.
func (h *LokiHandler) Close() error {
	s := h.sink
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.flush(context.Background())
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

func (s *lokiSink) flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	body, err := json.Marshal(lokiPush{Streams: []lokiStream{{Stream: s.labels, Values: batch}}})
	if err != nil {
		return fmt.Errorf("encode loki push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build loki request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to loki: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki push: %s", strings.TrimSpace(resp.Status))
	}
	return nil
}
