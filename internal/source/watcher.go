package source

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the directories holding the documents and reports
// each burst of changes once it has been quiet for the debounce
// period. A burst is delivered as one sorted, deduplicated path
// list, so repeated writes to one document trigger one reload.
type Watcher struct {
	onChange func(paths []string)
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	last    time.Time // time of the newest pending change
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher that calls onChange with the paths
// changed during a burst.
func NewWatcher(
	debounce time.Duration, onChange func(paths []string),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		onChange: onChange,
		fsw:      fsw,
		debounce: debounce,
		pending:  make(map[string]struct{}),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Watch adds dirs to the watch list and returns how many were added
// and how many failed.
func (w *Watcher) Watch(dirs ...string) (watched, unwatched int) {
	for _, dir := range dirs {
		if err := w.fsw.Add(dir); err != nil {
			log.Printf("watcher: cannot watch %s: %v", dir, err)
			unwatched++
			continue
		}
		watched++
	}
	return watched, unwatched
}

// Reset replaces the watch list with dirs, used when the workspace
// changes.
func (w *Watcher) Reset(dirs ...string) (watched, unwatched int) {
	for _, dir := range w.fsw.WatchList() {
		_ = w.fsw.Remove(dir)
	}
	return w.Watch(dirs...)
}

// Start processes events until Stop.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends event processing and releases the fsnotify watcher. It
// is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.record(ev) {
				quiet.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		case <-quiet.C:
			w.flush()
		}
	}
}

// changeOps can alter a document; chmod cannot.
const changeOps = fsnotify.Write | fsnotify.Create |
	fsnotify.Remove | fsnotify.Rename

// isNoise reports editor and atomic-write scratch files.
func isNoise(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".#") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".tmp")
}

// record adds ev to the pending burst and reports whether it did.
// Newly created directories are watched so session documents
// written into them are seen.
func (w *Watcher) record(ev fsnotify.Event) bool {
	if ev.Op&changeOps == 0 || isNoise(ev.Name) {
		return false
	}
	if ev.Op&fsnotify.Create != 0 && w.fsw != nil {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(ev.Name)
		}
	}

	w.mu.Lock()
	w.pending[ev.Name] = struct{}{}
	w.last = w.now()
	w.mu.Unlock()
	return true
}

// flush delivers the pending burst once no change has arrived for
// the debounce period.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 || w.now().Sub(w.last) < w.debounce {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	w.mu.Unlock()

	slices.Sort(paths)
	log.Printf("watcher: %d path(s) changed", len(paths))
	w.onChange(paths)
}
