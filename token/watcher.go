package token

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-runs Bootstrap when apps.txt changes, so newly installed
// companions get a token without a restart. It watches the workspace
// directory rather than the file for atomic-save compatibility.
type Watcher struct {
	manager  *Manager
	debounce time.Duration

	fsWatcher   *fsnotify.Watcher
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	lastContent string

	mu      sync.Mutex
	pending bool
	lastHit time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the change debounce, default 500ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a Watcher for the manager's workspace.
func NewWatcher(m *Manager, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		manager:  m,
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The current apps.txt content is remembered so
// spurious directory events do not trigger redundant bootstraps.
func (w *Watcher) Start() error {
	w.lastContent = w.readCurrent()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("token watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	if err := fsw.Add(w.manager.workspace); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("token watcher: watch %s: %w", w.manager.workspace, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the background goroutine. Safe
// to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != AppsFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = true
				w.lastHit = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.manager.logger.Error("token watcher error", "error", err)

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	ready := w.pending && time.Since(w.lastHit) >= w.debounce
	if ready {
		w.pending = false
	}
	w.mu.Unlock()
	if !ready {
		return
	}

	content := w.readCurrent()
	if content == w.lastContent {
		return
	}
	w.lastContent = content

	w.manager.logger.Info("apps.txt changed, refreshing tokens")
	if err := w.manager.Bootstrap(); err != nil {
		w.manager.logger.Error("token refresh failed", "error", err)
	}
}

func (w *Watcher) readCurrent() string {
	b, err := os.ReadFile(filepath.Join(w.manager.workspace, AppsFileName))
	if err != nil {
		return ""
	}
	return string(b)
}
