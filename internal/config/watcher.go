package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Watcher polls the config file and the term files it lists.
//
// A config file whose content changed and still validates is handed to the
// config callback together with the previous config; an invalid edit is
// logged and the previous config stays current. A listed term file whose
// modification time changed, including one that was deleted or recreated,
// is handed to the term file handler. Term files added by a config change
// are only tracked from then on: loading them is up to the config callback.
type Watcher struct {
	path       string
	interval   time.Duration
	onChange   func(old, new *Config)
	onTermFile func(path string)

	mu       sync.Mutex
	current  *Config
	cfgMtime time.Time
	cfgSum   [sha256.Size]byte
	terms    map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithTermFileHandler calls fn with the path of every configured term file
// that changed on disk. fn runs on the polling goroutine.
func WithTermFileHandler(fn func(path string)) WatcherOption {
	return func(w *Watcher) { w.onTermFile = fn }
}

// NewWatcher loads the config at path and starts polling it. onChange may be
// nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		terms:    make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.cfgSum, w.cfgMtime = cfg, sum, mtime
	w.trackLocked(cfg.Terms.Files)

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkConfig()
			if w.onTermFile != nil {
				w.checkTermFiles()
			}
		}
	}
}

func (w *Watcher) checkConfig() {
	w.mu.Lock()
	known := w.cfgMtime
	w.mu.Unlock()

	mtime := statTime(w.path)
	if mtime.IsZero() {
		slog.Warn("config watcher: cannot stat file", "path", w.path)
		return
	}
	if mtime.Equal(known) {
		return
	}

	cfg, sum, _, err := w.load()
	w.mu.Lock()
	w.cfgMtime = mtime
	w.mu.Unlock()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if sum == w.cfgSum {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.cfgSum = cfg, sum
	w.trackLocked(cfg.Terms.Files)
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "term_files", len(cfg.Terms.Files))
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) checkTermFiles() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.terms))
	for p := range w.terms {
		paths = append(paths, p)
	}
	w.mu.Unlock()
	slices.Sort(paths)

	for _, p := range paths {
		mtime := statTime(p)
		w.mu.Lock()
		last, tracked := w.terms[p]
		changed := tracked && !mtime.Equal(last)
		if changed {
			w.terms[p] = mtime
		}
		w.mu.Unlock()
		if !changed {
			continue
		}
		slog.Info("config watcher: term file changed", "path", p, "exists", !mtime.IsZero())
		w.onTermFile(p)
	}
}

// trackLocked replaces the set of watched term files. Paths already watched
// keep their last seen modification time. The caller must hold w.mu or own w
// exclusively.
func (w *Watcher) trackLocked(files []string) {
	next := make(map[string]time.Time, len(files))
	for _, f := range files {
		if t, ok := w.terms[f]; ok {
			next[f] = t
			continue
		}
		next[f] = statTime(f)
	}
	w.terms = next
}

// load reads, parses and validates the config file and returns it with the
// SHA-256 of its content and its modification time.
func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	mtime := statTime(w.path)
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := parse(bytes.NewReader(data), filepath.Dir(w.path))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), mtime, nil
}

// statTime returns the modification time of path, or the zero time when it
// cannot be inspected.
func statTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
