package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// ParseFunc turns file content into a value. An error keeps the previous
// value in place.
type ParseFunc[T any] func(data []byte) (T, error)

// Watcher monitors a file for changes and calls a callback with the newly
// parsed value. It polls (mtime, then sha256) instead of using fsnotify.
type Watcher[T any] struct {
	path     string
	interval time.Duration
	parse    ParseFunc[T]
	onChange func(old, new T)

	mu       sync.Mutex
	current  T
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*watcherSettings)

type watcherSettings struct {
	interval time.Duration
}

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(s *watcherSettings) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewWatcher parses path immediately and starts polling it in a background
// goroutine. onChange may be nil.
func NewWatcher[T any](path string, parse ParseFunc[T], onChange func(old, new T), opts ...WatcherOption) (*Watcher[T], error) {
	s := watcherSettings{interval: DefaultWatchInterval}
	for _, opt := range opts {
		opt(&s)
	}
	w := &Watcher[T]{
		path:     path,
		interval: s.interval,
		parse:    parse,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	v, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load of %q: %w", path, err)
	}
	w.current = v
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// WatchConfig watches a configuration file. Invalid revisions are logged and
// skipped.
func WatchConfig(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher[*Config], error) {
	return NewWatcher(path, func(data []byte) (*Config, error) {
		return LoadFromReader(bytes.NewReader(data))
	}, onChange, opts...)
}

// Current returns the most recently parsed value.
func (w *Watcher[T]) Current() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Path returns the watched file.
func (w *Watcher[T]) Path() string { return w.path }

// Stop stops polling. It is safe to call more than once.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher[T]) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check re-parses the file when its mtime and content changed, then swaps
// the current value and calls onChange.
func (w *Watcher[T]) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	v, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: keeping previous revision", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched but identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = v
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("config watcher: file reloaded", "path", w.path)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, v)
	}
}

func (w *Watcher[T]) loadAndHash() (T, [sha256.Size]byte, time.Time, error) {
	var (
		zero     T
		zeroHash [sha256.Size]byte
	)

	info, err := os.Stat(w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}

	v, err := w.parse(data)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	return v, sha256.Sum256(data), info.ModTime(), nil
}
