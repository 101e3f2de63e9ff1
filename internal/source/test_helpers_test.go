package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// waitWithTimeout standardizes waiting for a channel signal with a
// failure timeout.
func waitWithTimeout(
	t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string,
) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal(msg)
	}
}

// pollUntil polls fn with the given interval until it returns true
// or the timeout expires.
func pollUntil(
	t *testing.T,
	timeout, interval time.Duration,
	msg string,
	fn func() bool,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(interval)
	}
	if fn() {
		return
	}
	t.Fatal(msg)
}

// newTestWatcher builds a Watcher without an fsnotify backend for
// exercising record and flush directly.
func newTestWatcher(
	debounce time.Duration, onChange func([]string),
) *Watcher {
	return &Watcher{
		debounce: debounce,
		pending:  make(map[string]struct{}),
		onChange: onChange,
		now:      time.Now,
	}
}

func pendingCount(w *Watcher) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func pendingContains(w *Watcher, path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[path]
	return ok
}

// writeDoc writes a document under root, creating parent dirs.
func writeDoc(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// testLayout returns a configured layout rooted at a temp dir.
func testLayout(t *testing.T) Layout {
	t.Helper()
	return Layout{
		Root:        t.TempDir(),
		ContextFile: ".ctx/context.json",
		ChangesFile: ".ctx/changes.json",
		RevertDir:   ".ctx/reverts",
	}
}

// drain collects events already buffered on ch.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}
