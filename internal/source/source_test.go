package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/ctxview/internal/document"
	"github.com/wesm/ctxview/internal/metrics"
	"github.com/wesm/ctxview/internal/tree"
)

var contextDef = Def{Kind: KindContext, DisplayName: "Aggregated Context"}
var revertsDef = Def{
	Kind: KindReverts, DisplayName: "Revert History", Sessions: true,
}

// countingLoader returns a loader serving entries and the number of
// times it has been called.
func countingLoader(entries ...tree.Entry) (Loader, *atomic.Int32) {
	var n atomic.Int32
	return func(string) ([]tree.Entry, []error, error) {
		n.Add(1)
		return entries, nil, nil
	}, &n
}

func names(nodes []tree.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func TestSourceLoadsOnce(t *testing.T) {
	load, calls := countingLoader(
		tree.Entry{Path: "src/a.ts", Content: "A"},
	)
	src := New(contextDef, "/ws/context.json", WithLoader(load))
	ctx := context.Background()

	for range 3 {
		nodes, err := src.Children(ctx, Ref{})
		require.NoError(t, err)
		assert.Equal(t, []string{"src"}, names(nodes))
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestSourceConcurrentCallersShareLoad(t *testing.T) {
	var calls atomic.Int32
	load := func(string) ([]tree.Entry, []error, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return []tree.Entry{{Path: "a.ts"}}, nil, nil
	}
	src := New(contextDef, "/ws/context.json", WithLoader(load))

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			snap, err := src.Snapshot(context.Background())
			assert.NoError(t, err)
			assert.Len(t, snap.Entries, 1)
		})
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestSourceInvalidateReloads(t *testing.T) {
	load, calls := countingLoader(tree.Entry{Path: "a.ts"})
	src := New(contextDef, "/ws/context.json", WithLoader(load))
	ctx := context.Background()

	_, err := src.Snapshot(ctx)
	require.NoError(t, err)
	src.Invalidate()
	assert.False(t, src.Status().Loaded)

	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, snap.Generation)
}

func TestSourceStaleLoadNotInstalled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	load := func(string) ([]tree.Entry, []error, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return []tree.Entry{
				{Path: "old/a.ts"}, {Path: "old/b.ts"}, {Path: "old/c.ts"},
			}, nil, nil
		}
		return []tree.Entry{{Path: "new.ts"}}, nil, nil
	}
	src := New(contextDef, "/ws/context.json", WithLoader(load))
	ctx := context.Background()
	gaugeBefore, _ := entriesGauge(t, KindContext)

	done := make(chan *Snapshot)
	go func() {
		snap, _ := src.Snapshot(ctx)
		done <- snap
	}()
	<-started
	src.Invalidate()
	close(release)

	stale := <-done
	require.NotNil(t, stale)
	assert.False(t, src.Status().Loaded,
		"load started before invalidation must not be cached")
	gaugeAfter, _ := entriesGauge(t, KindContext)
	assert.Equal(t, gaugeBefore, gaugeAfter,
		"a discarded load must not move the entries gauge")

	nodes, err := src.Children(ctx, Ref{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new.ts"}, names(nodes))
	assert.EqualValues(t, 2, calls.Load())
	n, ok := entriesGauge(t, KindContext)
	require.True(t, ok)
	assert.Equal(t, 1.0, n)
}

// entriesGauge scrapes the served entry count of kind.
func entriesGauge(t *testing.T, kind Kind) (float64, bool) {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/metrics", nil))
	prefix := fmt.Sprintf("ctxview_source_entries{source=%q} ", kind)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if v, ok := strings.CutPrefix(line, prefix); ok {
			f, err := strconv.ParseFloat(v, 64)
			require.NoError(t, err)
			return f, true
		}
	}
	return 0, false
}

func TestSourceSnapshotHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	load := func(string) ([]tree.Entry, []error, error) {
		<-release
		return nil, nil, nil
	}
	src := New(contextDef, "/ws/context.json", WithLoader(load))

	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()
	_, err := src.Snapshot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceUnconfigured(t *testing.T) {
	load, calls := countingLoader(tree.Entry{Path: "a.ts"})
	src := New(contextDef, "", WithLoader(load))

	nodes, err := src.Children(context.Background(), Ref{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Zero(t, calls.Load(), "unconfigured source must not load")

	st := src.Status()
	assert.False(t, st.Configured)
	assert.True(t, st.Loaded)
	assert.Zero(t, st.Entries)
}

func TestSourceMalformedDocument(t *testing.T) {
	root := t.TempDir()
	loc := writeDoc(t, root, "context.json", `{"changes": 5}`)

	var calls atomic.Int32
	load := func(location string) ([]tree.Entry, []error, error) {
		calls.Add(1)
		return loadFile(location)
	}
	var mu sync.Mutex
	var events []Event
	notify := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	src := New(contextDef, loc, WithLoader(load), WithNotify(notify))
	ctx := context.Background()

	for range 2 {
		nodes, err := src.Children(ctx, Ref{})
		require.NoError(t, err)
		assert.Empty(t, nodes)
	}
	assert.EqualValues(t, 1, calls.Load(), "no retry until invalidated")

	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, EventDiagnostic, events[0].Type)
	assert.Contains(t, events[0].Message, loc)
	mu.Unlock()

	st := src.Status()
	assert.NotEmpty(t, st.Error)

	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, errors.Is(snap.Err, document.ErrMalformed))
}

func TestSourceMissingDocumentIsEmpty(t *testing.T) {
	loc := filepath.Join(t.TempDir(), "absent.json")
	src := New(contextDef, loc)

	nodes, err := src.Children(context.Background(), Ref{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, src.Status().Error)
}

func sessionEntries() []tree.Entry {
	return []tree.Entry{
		{Path: "src/a.ts", Content: "a-new", Session: "revert_2", Seq: 2},
		{Path: "src/b.ts", Content: "b-new", Session: "revert_2", Seq: 2},
		{Path: "src/a.ts", Content: "a-old", Session: "revert_1", Seq: 1},
	}
}

func TestSourceSessionGrouping(t *testing.T) {
	load, _ := countingLoader(sessionEntries()...)
	src := New(revertsDef, "/ws/reverts", WithLoader(load))
	ctx := context.Background()

	root, err := src.Children(ctx, Ref{})
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.Equal(t, tree.KindDirectory, root[0].Kind)

	nodes, err := src.Children(ctx, Ref{Path: "src"})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	a, b := nodes[0], nodes[1]
	assert.Equal(t, "a.ts", a.Name)
	assert.Equal(t, tree.KindMultiSession, a.Kind)
	assert.False(t, a.IsLeaf)

	assert.Equal(t, "b.ts", b.Name)
	assert.True(t, b.IsLeaf)
	assert.Equal(t, "revert_2", b.Session)
	assert.Equal(t, "#2", b.Label)
	assert.Equal(t, "reverts", b.Source)

	variants, err := src.Children(ctx, Ref{Path: a.Path, Kind: a.Kind})
	require.NoError(t, err)
	assert.Equal(t, []string{"revert_2", "revert_1"}, names(variants))
	for _, v := range variants {
		assert.Equal(t, tree.KindSessionVariant, v.Kind)
		assert.Equal(t, "src/a.ts", v.Path)
		assert.Equal(t, "reverts", v.Source)
	}

	e, err := src.Content(ctx, "src/a.ts", variants[1].Session)
	require.NoError(t, err)
	assert.Equal(t, "a-old", e.Content)
}

func TestSourceSessionScopedChildren(t *testing.T) {
	load, _ := countingLoader(sessionEntries()...)
	src := New(revertsDef, "/ws/reverts", WithLoader(load))

	nodes, err := src.Children(
		context.Background(), Ref{Path: "src", Session: "revert_1"},
	)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a.ts", nodes[0].Name)
	assert.Equal(t, "revert_1", nodes[0].Session)
	assert.Equal(t, "#1", nodes[0].Label)
}

func TestSourceContent(t *testing.T) {
	load, _ := countingLoader(
		tree.Entry{Path: "src/a.ts", Content: "A"},
	)
	src := New(contextDef, "/ws/context.json", WithLoader(load))
	ctx := context.Background()

	e, err := src.Content(ctx, `src\a.ts`, "")
	require.NoError(t, err)
	assert.Equal(t, "A", e.Content)

	_, err = src.Content(ctx, "src/missing.ts", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSourceReadsSessionDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "reverts")
	writeDoc(t, root, "reverts/revert_1.json",
		`[{"filePath":"x.go","content":"one"}]`)
	writeDoc(t, root, "reverts/revert_2.json",
		`[{"filePath":"x.go","content":"two"}]`)
	writeDoc(t, root, "reverts/revert_3.json", `not json`)

	var mu sync.Mutex
	var diags int
	src := New(revertsDef, dir, WithNotify(func(ev Event) {
		if ev.Type == EventDiagnostic {
			mu.Lock()
			diags++
			mu.Unlock()
		}
	}))
	ctx := context.Background()

	nodes, err := src.Children(ctx, Ref{})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, tree.KindMultiSession, nodes[0].Kind)

	variants, err := src.Children(ctx, Ref{
		Path: nodes[0].Path, Kind: nodes[0].Kind,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"revert_2", "revert_1"}, names(variants))

	mu.Lock()
	assert.Equal(t, 1, diags)
	mu.Unlock()
	assert.Len(t, src.Status().Warnings, 1)
}

func TestSourceInvalidateNotifies(t *testing.T) {
	var got []Event
	src := New(contextDef, "", WithNotify(func(ev Event) {
		got = append(got, ev)
	}))
	src.Invalidate()
	src.Invalidate()

	require.Len(t, got, 2)
	assert.Equal(t, EventRefresh, got[1].Type)
	assert.Equal(t, KindContext, got[1].Source)
	assert.EqualValues(t, 2, got[1].Generation)
}
