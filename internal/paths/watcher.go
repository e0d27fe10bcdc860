package paths

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/luan/attentive/internal/logging"
)

// DeletionWatcher watches the parent directories of currently-tracked files
// for Remove/Rename events and reports each tracked file that disappears.
// The status dashboard uses it for live deletion markers; the router's purge
// grace period does not depend on it, since every routed turn checks each
// scored file on disk.
type DeletionWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	root        string
	tracked     map[string]struct{} // project-relative FileIds currently watched
	watchedDirs map[string]int      // absolute dir -> number of tracked files inside it
	debounce    map[string]time.Time
	debounceDur time.Duration
	onDelete    func(fileID string)
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewDeletionWatcher creates a watcher rooted at root. onDelete is invoked
// (from the watcher's goroutine) with the project-relative FileId whenever
// a tracked file disappears.
func NewDeletionWatcher(root string, onDelete func(fileID string)) (*DeletionWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DeletionWatcher{
		watcher:     w,
		root:        root,
		tracked:     make(map[string]struct{}),
		watchedDirs: make(map[string]int),
		debounce:    make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
		onDelete:    onDelete,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *DeletionWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop halts the watcher and releases its file descriptors.
func (w *DeletionWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

// Track adds fileID (project-relative path) to the set of watched files,
// adding its parent directory to the fsnotify watch list if not already
// watched.
func (w *DeletionWatcher) Track(fileID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tracked[fileID]; ok {
		return
	}
	w.tracked[fileID] = struct{}{}

	dir := filepath.Dir(filepath.Join(w.root, fileID))
	if w.watchedDirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			logging.Get(logging.CategoryState).Warn("deletion watcher: could not watch %s: %v", dir, err)
		}
	}
	w.watchedDirs[dir]++
}

// Untrack removes fileID, releasing the parent directory watch once no
// tracked file remains inside it.
func (w *DeletionWatcher) Untrack(fileID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tracked[fileID]; !ok {
		return
	}
	delete(w.tracked, fileID)

	dir := filepath.Dir(filepath.Join(w.root, fileID))
	w.watchedDirs[dir]--
	if w.watchedDirs[dir] <= 0 {
		delete(w.watchedDirs, dir)
		w.watcher.Remove(dir)
	}
}

func (w *DeletionWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			w.flushDebounced()
		}
	}
}

func (w *DeletionWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	w.mu.Lock()
	if _, ok := w.tracked[rel]; !ok {
		w.mu.Unlock()
		return
	}
	w.debounce[rel] = time.Now()
	w.mu.Unlock()
}

func (w *DeletionWatcher) flushDebounced() {
	now := time.Now()
	var fired []string

	w.mu.Lock()
	for id, at := range w.debounce {
		if now.Sub(at) >= w.debounceDur {
			fired = append(fired, id)
			delete(w.debounce, id)
		}
	}
	w.mu.Unlock()

	for _, id := range fired {
		if w.onDelete != nil {
			w.onDelete(id)
		}
	}
}
