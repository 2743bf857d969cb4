package requestlog

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// DefaultMaxEntries bounds the in-memory log.
const DefaultMaxEntries = 60000

// Logger records entries. The dispatcher and control plane accept this
// interface.
type Logger interface {
	Log(entry *Entry)
}

// RequestMatcher decides whether a logged request satisfies a pattern.
type RequestMatcher interface {
	Matches(candidate, pattern *model.HTTPRequest) bool
}

// Subscriber receives new entries.
type Subscriber chan *Entry

// Option configures a Memory log.
type Option func(*Memory)

// WithMaxEntries sets the capacity. The oldest entry is dropped when full.
func WithMaxEntries(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithLogger mirrors every entry to an operational logger at debug level.
func WithLogger(log *slog.Logger) Option {
	return func(m *Memory) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// Memory is an in-memory ring of entries. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	entries    []*Entry
	maxEntries int
	nextID     int64
	matcher    RequestMatcher
	now        func() time.Time
	log        *slog.Logger

	subMu       sync.RWMutex
	subscribers map[Subscriber]struct{}
}

// NewMemory creates an in-memory log that filters with matcher.
func NewMemory(matcher RequestMatcher, opts ...Option) *Memory {
	m := &Memory{
		maxEntries:  DefaultMaxEntries,
		matcher:     matcher,
		now:         time.Now,
		log:         logging.Nop(),
		subscribers: make(map[Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.entries = make([]*Entry, 0, min(m.maxEntries, 1024))
	return m
}

// Log records an entry, assigning an ID and timestamp when unset.
func (m *Memory) Log(entry *Entry) {
	if entry == nil {
		return
	}

	m.mu.Lock()
	if entry.ID == "" {
		m.nextID++
		entry.ID = "log-" + strconv.FormatInt(m.nextID, 36)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	if len(m.entries) >= m.maxEntries {
		m.entries[0] = nil
		m.entries = m.entries[1:]
	}
	m.entries = append(m.entries, entry)
	m.mu.Unlock()

	m.log.Debug("event", "type", entry.Type, "id", entry.ID, "expectation", entry.ExpectationID, "message", entry.Message)

	m.subMu.RLock()
	for sub := range m.subscribers {
		select {
		case sub <- entry:
		default:
		}
	}
	m.subMu.RUnlock()
}

// Entries returns copies of all entries, oldest first, whose request matches
// pattern. A nil pattern returns every entry, including those with no request.
func (m *Memory) Entries(pattern *model.HTTPRequest) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if pattern != nil && (e.Request == nil || !m.matcher.Matches(e.Request, pattern)) {
			continue
		}
		out = append(out, e.clone())
	}
	return out
}

// Requests returns the received requests matching pattern, oldest first.
func (m *Memory) Requests(pattern *model.HTTPRequest) []*model.HTTPRequest {
	var out []*model.HTTPRequest
	for _, e := range m.requestEntries(pattern) {
		out = append(out, e.Request)
	}
	return out
}

// RequestResponse pairs a request with the response returned for it.
type RequestResponse struct {
	HTTPRequest  *model.HTTPRequest  `json:"httpRequest"`
	HTTPResponse *model.HTTPResponse `json:"httpResponse,omitempty"`
}

// RequestResponses returns request/response pairs for requests matching pattern.
func (m *Memory) RequestResponses(pattern *model.HTTPRequest) []RequestResponse {
	var out []RequestResponse
	for _, e := range m.requestEntries(pattern) {
		if e.Type == TypeReceivedRequest {
			continue
		}
		out = append(out, RequestResponse{HTTPRequest: e.Request, HTTPResponse: e.Response})
	}
	return out
}

// RecordedExpectations turns forwarded traffic matching pattern into
// expectations that would replay it.
func (m *Memory) RecordedExpectations(pattern *model.HTTPRequest) []*model.Expectation {
	var out []*model.Expectation
	for _, e := range m.requestEntries(pattern) {
		if e.Type != TypeForwardedRequest || e.Response == nil {
			continue
		}
		req := e.Request
		req.SocketAddress = nil
		req.Headers = req.Headers.Without("Host", true).Without("Content-Length", true)
		out = append(out, model.When(req).Respond(e.Response))
	}
	return out
}

// Messages returns human-readable lines for entries matching pattern.
func (m *Memory) Messages(pattern *model.HTTPRequest) []string {
	entries := m.Entries(pattern)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.String())
	}
	return out
}

// Clear removes entries whose request matches pattern. A nil pattern removes
// everything. It returns the number removed.
func (m *Memory) Clear(pattern *model.HTTPRequest) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pattern == nil {
		n := len(m.entries)
		m.entries = make([]*Entry, 0, cap(m.entries))
		return n
	}
	kept := m.entries[:0]
	removed := 0
	for _, e := range m.entries {
		if e.Request != nil && m.matcher.Matches(e.Request, pattern) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(m.entries); i++ {
		m.entries[i] = nil
	}
	m.entries = kept
	return removed
}

// Count returns the number of entries.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Subscribe registers a subscriber for new entries. Slow subscribers miss
// entries rather than block logging.
func (m *Memory) Subscribe() (Subscriber, func()) {
	ch := make(Subscriber, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subscribers, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

// requestEntries returns copies of the entries describing inbound requests.
func (m *Memory) requestEntries(pattern *model.HTTPRequest) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if !e.Type.request() || e.Request == nil {
			continue
		}
		if pattern != nil && !m.matcher.Matches(e.Request, pattern) {
			continue
		}
		out = append(out, e.clone())
	}
	return out
}
