package expectation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/0x1a0b/mockserver-sub001/internal/matching"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// DefaultMaxExpectations bounds the store when no limit is configured.
const DefaultMaxExpectations = 5000

// Store is a thread-safe ordered collection of expectations.
type Store struct {
	mu           sync.Mutex
	expectations []*model.Expectation
	max          int

	matcher *matching.Matcher
	now     func() time.Time
	log     *slog.Logger

	// notifyMu is taken before mu is released so listeners observe
	// snapshots in mutation order.
	notifyMu  sync.Mutex
	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithMatcher shares a matcher (and its compile cache) with the store.
func WithMatcher(m *matching.Matcher) Option {
	return func(s *Store) { s.matcher = m }
}

// WithMaxExpectations sets the capacity. When the store is full the oldest
// expectation is evicted to make room.
func WithMaxExpectations(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces the time source used for TTL evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		max:       DefaultMaxExpectations,
		now:       time.Now,
		log:       logging.Nop(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.matcher == nil {
		s.matcher = matching.New()
	}
	return s
}

// Matcher returns the matcher used for lookups.
func (s *Store) Matcher() *matching.Matcher {
	return s.matcher
}

// Add validates and stores expectations. An expectation whose ID is already
// stored replaces it in place; everything else is appended. Either all
// expectations are stored or, on a validation error, none are. The returned
// expectations are copies carrying the assigned IDs.
func (s *Store) Add(cause Cause, exps ...*model.Expectation) ([]*model.Expectation, error) {
	prepared := make([]*model.Expectation, 0, len(exps))
	now := s.now()
	for _, exp := range exps {
		if exp == nil {
			continue
		}
		if err := exp.Validate(); err != nil {
			return nil, err
		}
		if err := s.matcher.Compile(exp.HTTPRequest); err != nil {
			return nil, err
		}
		c := exp.Clone()
		c.EnsureID()
		if c.Times == nil {
			c.Times = model.Unlimited()
		}
		if c.TimeToLive == nil {
			c.TimeToLive = model.UnlimitedTTL()
		}
		c.TimeToLive.Start(now)
		prepared = append(prepared, c)
	}
	if len(prepared) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	var evicted int
	for _, exp := range prepared {
		if i := s.indexOf(exp.ID); i >= 0 {
			s.expectations[i] = exp
			continue
		}
		if len(s.expectations) >= s.max {
			s.expectations[0] = nil
			s.expectations = s.expectations[1:]
			evicted++
		}
		s.expectations = append(s.expectations, exp)
	}
	if evicted > 0 {
		s.log.Warn("expectation store full, evicted oldest", "evicted", evicted, "max", s.max)
	}
	stored := cloneAll(prepared)
	s.unlockAndNotify(cause)

	for _, exp := range stored {
		s.log.Info("expectation added", "id", exp.ID, "action", exp.ActionType(), "cause", cause)
	}
	return stored, nil
}

// FirstMatching returns a copy of the first live expectation matching req,
// consuming one of its remaining uses, or nil. Expired and exhausted
// expectations passed over by the scan are evicted.
func (s *Store) FirstMatching(req *model.HTTPRequest) *model.Expectation {
	now := s.now()

	s.mu.Lock()
	var (
		found   *model.Expectation
		evicted int
	)
	kept := s.expectations[:0]
	for _, exp := range s.expectations {
		if found != nil {
			kept = append(kept, exp)
			continue
		}
		if !live(exp, now) {
			evicted++
			continue
		}
		if !s.matcher.Matches(req, exp.HTTPRequest) {
			kept = append(kept, exp)
			continue
		}
		exhausted := exp.Times.Decrement()
		found = exp.Clone()
		if exhausted {
			evicted++
			continue
		}
		kept = append(kept, exp)
	}
	clearTail(s.expectations, len(kept))
	s.expectations = kept

	if evicted == 0 {
		s.mu.Unlock()
		return found
	}
	s.log.Debug("evicted expectations", "count", evicted)
	s.unlockAndNotify(CauseInternal)
	return found
}

// Clear removes every expectation whose template is selected by pattern and
// returns how many were removed. A nil pattern removes everything.
func (s *Store) Clear(pattern *model.HTTPRequest, cause Cause) int {
	if pattern == nil {
		return s.Reset(cause)
	}

	s.mu.Lock()
	kept := s.expectations[:0]
	removed := 0
	for _, exp := range s.expectations {
		if s.matcher.MatchesTemplate(pattern, exp.HTTPRequest) {
			removed++
			continue
		}
		kept = append(kept, exp)
	}
	clearTail(s.expectations, len(kept))
	s.expectations = kept

	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	s.unlockAndNotify(cause)
	s.log.Info("expectations cleared", "count", removed, "cause", cause)
	return removed
}

// Remove deletes the expectation with the given ID.
func (s *Store) Remove(id string, cause Cause) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	last := len(s.expectations) - 1
	copy(s.expectations[i:], s.expectations[i+1:])
	s.expectations[last] = nil
	s.expectations = s.expectations[:last]
	s.unlockAndNotify(cause)
	return true
}

// Reset removes every expectation and returns how many were removed.
// Listeners are notified even when the store was already empty.
func (s *Store) Reset(cause Cause) int {
	s.mu.Lock()
	n := len(s.expectations)
	s.expectations = nil
	s.unlockAndNotify(cause)
	s.log.Info("expectations reset", "count", n, "cause", cause)
	return n
}

// Retrieve returns copies of the live expectations selected by pattern, in
// store order. It does not consume uses or evict anything.
func (s *Store) Retrieve(pattern *model.HTTPRequest) []*model.Expectation {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*model.Expectation, 0, len(s.expectations))
	for _, exp := range s.expectations {
		if !live(exp, now) {
			continue
		}
		if pattern != nil && !s.matcher.MatchesTemplate(pattern, exp.HTTPRequest) {
			continue
		}
		result = append(result, exp.Clone())
	}
	return result
}

// Get returns a copy of the expectation with the given ID, or nil.
func (s *Store) Get(id string) *model.Expectation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.expectations[i].Clone()
	}
	return nil
}

// Len returns the number of stored expectations, including ones that have
// expired but not yet been evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expectations)
}

// RegisterListener adds l and returns a function that removes it.
// Listeners run synchronously on the mutating goroutine and must not mutate
// the store themselves.
func (s *Store) RegisterListener(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

// unlockAndNotify must be called with mu held. It snapshots the store,
// releases mu and delivers the snapshot to every listener.
func (s *Store) unlockAndNotify(cause Cause) {
	snapshot := cloneAll(s.expectations)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.lmu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.lmu.RUnlock()

	for _, l := range listeners {
		l.ExpectationsChanged(cloneAll(snapshot), cause)
	}
}

func (s *Store) indexOf(id string) int {
	for i, exp := range s.expectations {
		if exp.ID == id {
			return i
		}
	}
	return -1
}

func live(exp *model.Expectation, now time.Time) bool {
	return !exp.Times.Exhausted() && !exp.TimeToLive.Expired(now)
}

func cloneAll(exps []*model.Expectation) []*model.Expectation {
	out := make([]*model.Expectation, len(exps))
	for i, exp := range exps {
		out[i] = exp.Clone()
	}
	return out
}

// clearTail drops references past n so evicted expectations can be collected.
func clearTail(exps []*model.Expectation, n int) {
	for i := n; i < len(exps); i++ {
		exps[i] = nil
	}
}
