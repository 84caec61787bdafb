package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"selkie/internal/ignore"
	"selkie/internal/logging"
)

// Directories never worth watching regardless of ignore rules.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
	"__pycache__":  true,
	"target":       true,
	"build":        true,
	"dist":         true,
}

// Watcher monitors a project tree and delivers debounced, root-relative
// change notifications, typically into engine.Invalidate.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	root       string
	rules      *ignore.Rules
	debounce   time.Duration
	maxWatches int

	mu      sync.Mutex
	handler ChangeHandler
	pending map[string]time.Time
	running bool

	eventsSeen atomic.Int64
	delivered  atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the project root. A disabled config
// yields an inert watcher whose Start and Stop are no-ops.
func NewWatcher(root string, rules *ignore.Rules, cfg Config) (*Watcher, error) {
	if !cfg.Enabled {
		return &Watcher{}, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounceMs := cfg.DebounceMs
	if debounceMs <= 0 {
		debounceMs = 500
	}
	maxWatches := cfg.MaxWatches
	if maxWatches <= 0 {
		maxWatches = 1000
	}

	return &Watcher{
		fsWatcher:  fsWatcher,
		root:       root,
		rules:      rules,
		debounce:   time.Duration(debounceMs) * time.Millisecond,
		maxWatches: maxWatches,
		pending:    make(map[string]time.Time),
		done:       make(chan struct{}),
	}, nil
}

// SetHandler sets the change callback. Set it before Start.
func (w *Watcher) SetHandler(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
}

// Start attaches to the tree and begins delivering changes.
func (w *Watcher) Start() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirectories(); err != nil {
		return err
	}

	go w.processEvents()
	go w.processDebounce()

	return nil
}

// Stop detaches and stops the delivery goroutines.
func (w *Watcher) Stop() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.stopOnce.Do(func() {
		close(w.done)
	})
	return w.fsWatcher.Close()
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns current watcher counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Running:    w.IsRunning(),
		EventsSeen: w.eventsSeen.Load(),
		Delivered:  w.delivered.Load(),
	}
	if w.fsWatcher != nil {
		s.WatchedDirs = len(w.fsWatcher.WatchList())
	}
	return s
}

// addDirectories walks the tree registering directories up to maxWatches.
func (w *Watcher) addDirectories() error {
	watchCount := 0

	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if watchCount >= w.maxWatches {
			return filepath.SkipDir
		}
		if !info.IsDir() {
			return nil
		}
		if skipDirs[info.Name()] {
			return filepath.SkipDir
		}
		if w.rules != nil && w.rules.Matches(path, true) {
			return filepath.SkipDir
		}

		if err := w.fsWatcher.Add(path); err != nil {
			logging.Debug("watch add failed", "path", path, "error", err)
			return nil
		}
		watchCount++
		return nil
	})
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.eventsSeen.Add(1)
	path := event.Name

	if w.rules != nil && w.rules.IsIgnored(path) {
		return
	}

	// Editor temp artifacts churn constantly; never invalidate on them.
	base := filepath.Base(path)
	if len(base) > 0 && (base[0] == '.' || base[0] == '#' || base[len(base)-1] == '~') {
		return
	}

	// Newly created directories join the watch set so files inside them
	// are seen too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !skipDirs[info.Name()] {
				w.mu.Lock()
				if len(w.fsWatcher.WatchList()) < w.maxWatches {
					_ = w.fsWatcher.Add(path)
				}
				w.mu.Unlock()
			}
			return
		}
	}

	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounce() {
	period := w.debounce / 2
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushPending()
		}
	}
}

// flushPending delivers paths that have been quiet for the debounce
// window. Delivery happens outside the lock.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	handler := w.handler
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}

	now := time.Now()
	toSend := make([]string, 0, len(w.pending))
	for path, eventTime := range w.pending {
		if now.Sub(eventTime) >= w.debounce {
			toSend = append(toSend, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	if handler == nil {
		return
	}
	for _, path := range toSend {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			continue
		}
		w.delivered.Add(1)
		handler(filepath.ToSlash(rel), w.detectOperation(path))
	}
}

// detectOperation stats the path at delivery time. Create and modify are
// indistinguishable after debouncing; both invalidate the same way.
func (w *Watcher) detectOperation(path string) Operation {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return OpDelete
	}
	return OpModify
}
