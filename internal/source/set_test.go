package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("reverts")
	require.NoError(t, err)
	assert.Equal(t, KindReverts, k)

	_, err = ParseKind("sessions")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestLayoutLocation(t *testing.T) {
	l := Layout{
		Root:        "/ws",
		ContextFile: ".ctx/context.json",
		ChangesFile: "/abs/changes.json",
		RevertDir:   ".ctx/reverts/",
	}
	tests := []struct {
		kind Kind
		want string
	}{
		{KindContext, filepath.FromSlash("/ws/.ctx/context.json")},
		{KindChanges, filepath.FromSlash("/abs/changes.json")},
		{KindReverts, filepath.FromSlash("/ws/.ctx/reverts")},
		{Kind("bogus"), ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, l.Location(tt.kind))
		})
	}

	var zero Layout
	assert.False(t, zero.Configured())
	assert.Empty(t, zero.Location(KindContext))
}

func TestSetUnconfigured(t *testing.T) {
	s := NewSet(Layout{})
	for _, src := range s.Sources() {
		nodes, err := src.Children(context.Background(), Ref{})
		require.NoError(t, err)
		assert.Empty(t, nodes, src.Def().Kind)
	}
	assert.Nil(t, s.InvalidatePaths([]string{"/anything.json"}))
	assert.Empty(t, s.WatchDirs())
}

func TestSetSourceLookup(t *testing.T) {
	s := NewSet(testLayout(t))
	src, err := s.Source(KindChanges)
	require.NoError(t, err)
	assert.Equal(t, KindChanges, src.Def().Kind)

	_, err = s.Source(Kind("nope"))
	assert.ErrorIs(t, err, ErrUnknownSource)

	var kinds []Kind
	for _, src := range s.Sources() {
		kinds = append(kinds, src.Def().Kind)
	}
	assert.Equal(t, []Kind{KindContext, KindChanges, KindReverts}, kinds)
}

func TestSetInvalidatePaths(t *testing.T) {
	l := testLayout(t)
	s := NewSet(l)
	ctxFile := l.Location(KindContext)
	revDir := l.Location(KindReverts)

	tests := []struct {
		name  string
		paths []string
		want  []Kind
	}{
		{"context file", []string{ctxFile}, []Kind{KindContext}},
		{
			"session document",
			[]string{filepath.Join(revDir, "revert_4.json")},
			[]Kind{KindReverts},
		},
		{"session dir itself", []string{revDir}, []Kind{KindReverts}},
		{
			"both",
			[]string{l.Location(KindChanges), ctxFile},
			[]Kind{KindContext, KindChanges},
		},
		{
			"unrelated sibling",
			[]string{filepath.Join(l.Root, ".ctx", "other.json")},
			nil,
		},
		{
			"file is not a directory",
			[]string{filepath.Join(ctxFile, "x")},
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.InvalidatePaths(tt.paths))
		})
	}
}

func TestSetInvalidatePathsDropsSnapshot(t *testing.T) {
	l := testLayout(t)
	writeDoc(t, l.Root, l.ContextFile, `[{"filePath":"a.ts"}]`)
	s := NewSet(l)
	src, err := s.Source(KindContext)
	require.NoError(t, err)

	nodes, err := src.Children(context.Background(), Ref{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts"}, names(nodes))

	writeDoc(t, l.Root, l.ContextFile,
		`[{"filePath":"a.ts"},{"filePath":"b.ts"}]`)
	s.InvalidatePaths([]string{l.Location(KindContext)})

	nodes, err = src.Children(context.Background(), Ref{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts", "b.ts"}, names(nodes))
}

func TestSetSubscribe(t *testing.T) {
	s := NewSet(testLayout(t))
	ch, cancel := s.Subscribe()

	s.Invalidate(KindContext, KindReverts)
	evs := drain(ch)
	require.Len(t, evs, 2)
	assert.Equal(t, KindContext, evs[0].Source)
	assert.Equal(t, KindReverts, evs[1].Source)
	for _, ev := range evs {
		assert.Equal(t, EventRefresh, ev.Type)
	}

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")

	// Publishing after cancel must not panic or block.
	s.InvalidateAll()
}

func TestSetSlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewSet(testLayout(t))
	ch, cancel := s.Subscribe()
	defer cancel()

	for range subscriberBuffer * 2 {
		s.InvalidateAll()
	}
	assert.Len(t, drain(ch), subscriberBuffer)
}

func TestSetDiagnosticsReachSubscribers(t *testing.T) {
	l := testLayout(t)
	writeDoc(t, l.Root, l.ChangesFile, `{"a": [], "b": []}`)
	s := NewSet(l)
	ch, cancel := s.Subscribe()
	defer cancel()

	src, err := s.Source(KindChanges)
	require.NoError(t, err)
	_, err = src.Snapshot(context.Background())
	require.NoError(t, err)

	evs := drain(ch)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDiagnostic, evs[0].Type)
	assert.Equal(t, KindChanges, evs[0].Source)
}

func TestSetConfigure(t *testing.T) {
	s := NewSet(Layout{})
	ch, cancel := s.Subscribe()
	defer cancel()

	l := testLayout(t)
	writeDoc(t, l.Root, l.ContextFile, `[{"filePath":"a.ts"}]`)
	s.Configure(l)

	assert.Equal(t, l, s.Layout())
	assert.Len(t, drain(ch), len(Registry))

	src, err := s.Source(KindContext)
	require.NoError(t, err)
	assert.Equal(t, l.Location(KindContext), src.Location())
	nodes, err := src.Children(context.Background(), Ref{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts"}, names(nodes))
}

func TestSetWatchDirs(t *testing.T) {
	l := testLayout(t)
	s := NewSet(l)

	// Nothing under the root exists yet.
	assert.Equal(t, []string{l.Root}, s.WatchDirs())

	revDir := l.Location(KindReverts)
	require.NoError(t, os.MkdirAll(revDir, 0o755))
	assert.Equal(t,
		[]string{filepath.Dir(revDir), revDir},
		s.WatchDirs(),
	)
}

func TestIsUnder(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/a/b", "/a/b/c.json", true},
		{"/a/b", "/a/b/c/d.json", true},
		{"/a/b", "/a/b", false},
		{"/a/b", "/a/bc/d.json", false},
		{"/a/b", "/a/x.json", false},
	}
	for _, tt := range tests {
		_, got := isUnder(tt.dir, tt.path)
		assert.Equal(t, tt.want, got, "isUnder(%s, %s)", tt.dir, tt.path)
	}
}
