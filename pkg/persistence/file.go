package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/0x1a0b/mockserver-sub001/pkg/expectation"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// FileOption configures a FileListener.
type FileOption func(*FileListener)

// WithFileLogger sets the logger.
func WithFileLogger(log *slog.Logger) FileOption {
	return func(l *FileListener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithInitializerPath names the initializer source. When it is the same
// file as the persistence path, changes caused by the initializer are not
// written back.
func WithInitializerPath(path string) FileOption {
	return func(l *FileListener) { l.initializerPath = path }
}

// FileListener writes the active expectations to a JSON file after every
// store change.
type FileListener struct {
	path            string
	initializerPath string
	log             *slog.Logger

	mu sync.Mutex
}

// NewFileListener creates a listener persisting to path.
func NewFileListener(path string, opts ...FileOption) *FileListener {
	l := &FileListener{path: path, log: logging.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the persistence file path.
func (l *FileListener) Path() string { return l.path }

// ExpectationsChanged implements expectation.Listener.
func (l *FileListener) ExpectationsChanged(exps []*model.Expectation, cause expectation.Cause) {
	if cause == expectation.CauseFileInitializer && samePath(l.path, l.initializerPath) {
		return
	}
	if err := l.Write(exps); err != nil {
		l.log.Error("persisting expectations failed", "path", l.path, "error", err)
		return
	}
	l.log.Debug("expectations persisted", "path", l.path, "count", len(exps), "cause", cause)
}

// Write replaces the file with exps using an atomic rename.
func (l *FileListener) Write(exps []*model.Expectation) error {
	data, err := Encode(exps)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temporary file: %w", err)
	}
	return nil
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ca, err1 := filepath.Abs(a)
	cb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}
