package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/0x1a0b/mockserver-sub001/pkg/expectation"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Store is the part of the expectation store the initializer changes.
type Store interface {
	Add(cause expectation.Cause, exps ...*model.Expectation) ([]*model.Expectation, error)
	Remove(id string, cause expectation.Cause) bool
}

// InitializerOption configures an Initializer.
type InitializerOption func(*Initializer)

// WithInitializerLogger sets the logger.
func WithInitializerLogger(log *slog.Logger) InitializerOption {
	return func(i *Initializer) {
		if log != nil {
			i.log = log
		}
	}
}

// WithDebounce sets how long reloads wait after the last file event.
func WithDebounce(d time.Duration) InitializerOption {
	return func(i *Initializer) {
		if d > 0 {
			i.debounce = d
		}
	}
}

// Initializer loads expectations from every file matching a pattern. A
// reload replaces what the previous load added.
type Initializer struct {
	store    Store
	pattern  string
	log      *slog.Logger
	debounce time.Duration

	mu     sync.Mutex
	loaded []string
}

// NewInitializer creates an initializer for pattern, a file path or a
// doublestar glob such as "expectations/**/*.json".
func NewInitializer(store Store, pattern string, opts ...InitializerOption) *Initializer {
	i := &Initializer{
		store:    store,
		pattern:  filepath.Clean(pattern),
		log:      logging.Nop(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Pattern returns the file pattern.
func (i *Initializer) Pattern() string { return i.pattern }

// Files returns the files currently matching the pattern, sorted.
func (i *Initializer) Files() ([]string, error) {
	matches, err := doublestar.FilepathGlob(i.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", i.pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Load reads every matching file and replaces the expectations added by the
// previous load. Nothing changes when any file fails to parse or any
// expectation is invalid.
func (i *Initializer) Load() (int, error) {
	files, err := i.Files()
	if err != nil {
		return 0, err
	}
	var exps []*model.Expectation
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", f, err)
		}
		parsed, err := Decode(f, data)
		if err != nil {
			return 0, err
		}
		exps = append(exps, parsed...)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	stored, err := i.store.Add(expectation.CauseFileInitializer, exps...)
	if err != nil {
		return 0, fmt.Errorf("load %q: %w", i.pattern, err)
	}
	current := make(map[string]struct{}, len(stored))
	ids := make([]string, 0, len(stored))
	for _, exp := range stored {
		current[exp.ID] = struct{}{}
		ids = append(ids, exp.ID)
	}
	for _, id := range i.loaded {
		if _, ok := current[id]; !ok {
			i.store.Remove(id, expectation.CauseFileInitializer)
		}
	}
	i.loaded = ids
	i.log.Info("expectations initialised", "pattern", i.pattern, "files", len(files), "count", len(ids))
	return len(ids), nil
}

// Watch reloads whenever a matching file is written, created, renamed or
// removed. It blocks until ctx is done.
func (i *Initializer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	base, _ := doublestar.SplitPattern(filepath.ToSlash(i.pattern))
	base = filepath.FromSlash(base)
	if err := addTree(watcher, base); err != nil {
		return err
	}
	i.log.Info("watching expectation files", "pattern", i.pattern, "dir", base)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addTree(watcher, event.Name)
					continue
				}
			}
			if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove) {
				continue
			}
			if !i.matches(event.Name) {
				continue
			}
			timer.Reset(i.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			i.log.Warn("file watch error", "error", err)
		case <-timer.C:
			if _, err := i.Load(); err != nil {
				i.log.Error("reloading expectations failed", "pattern", i.pattern, "error", err)
			}
		}
	}
}

func (i *Initializer) matches(name string) bool {
	ok, err := doublestar.PathMatch(i.pattern, filepath.Clean(name))
	return err == nil && ok
}

// addTree watches dir and every directory below it.
func addTree(w *fsnotify.Watcher, dir string) error {
	if dir == "" {
		dir = "."
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	return nil
}
