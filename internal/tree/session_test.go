package tree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionEntries() []Entry {
	return []Entry{
		{Path: "x", Content: "v2", Session: "revert_2", Seq: 2},
		{Path: "src/only.go", Session: "revert_2", Seq: 2},
		{Path: "x", Content: "v1", Session: "revert_1", Seq: 1},
		{Path: "src/shared.go", Session: "revert_1", Seq: 1},
		{Path: `src\shared.go`, Session: "revert_10", Seq: 10},
	}
}

func TestIndexSessionsNewestFirst(t *testing.T) {
	idx := IndexSessions(sessionEntries())
	assert.Equal(t, []string{"revert_2", "revert_1"}, idx.Tags("x"))
	assert.Equal(t,
		[]string{"revert_10", "revert_1"},
		idx.Tags("src/shared.go"),
	)
	assert.Equal(t, []string{"revert_2"}, idx.Tags("src/only.go"))
	assert.Nil(t, idx.Tags("nope"))
}

func TestIndexSessionsIgnoresUntagged(t *testing.T) {
	idx := IndexSessions(entries("a", "b"))
	assert.Nil(t, idx.Tags("a"))
}

func TestIndexSessionsDuplicateWithinSession(t *testing.T) {
	idx := IndexSessions([]Entry{
		{Path: "a", Session: "s1", Seq: 1},
		{Path: "./a", Session: "s1", Seq: 1},
	})
	assert.Equal(t, []string{"s1"}, idx.Tags("a"))
}

func TestSessionLabel(t *testing.T) {
	idx := IndexSessions([]Entry{
		{Path: "a", Session: "revert_7", Seq: 7},
		{Path: "a", Session: "manual", Seq: -1},
	})
	assert.Equal(t, "#7", idx.Label("revert_7"))
	assert.Equal(t, "manual", idx.Label("manual"))
	assert.Equal(t, "unknown", idx.Label("unknown"))
}

func TestGroupMultiSessionPlaceholder(t *testing.T) {
	es := []Entry{
		{Path: "x", Session: "s1", Seq: 1},
		{Path: "x", Session: "s2", Seq: 2},
	}
	idx := IndexSessions(es)

	root := Group(Children("", es, Options{}), idx)
	require.Len(t, root, 1)
	assert.Equal(t, "x", root[0].Name)
	assert.False(t, root[0].IsLeaf)
	assert.Equal(t, KindMultiSession, root[0].Kind)

	variants := SessionVariants(root[0].Path, idx)
	want := []Node{
		{
			Name: "s2", Path: "x", IsLeaf: true,
			Kind: KindSessionVariant, Session: "s2", Label: "#2",
		},
		{
			Name: "s1", Path: "x", IsLeaf: true,
			Kind: KindSessionVariant, Session: "s1", Label: "#1",
		},
	}
	if diff := cmp.Diff(want, variants); diff != "" {
		t.Errorf("variants mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupSingleSessionBindsTag(t *testing.T) {
	es := sessionEntries()
	idx := IndexSessions(es)

	src := Group(Children("src", es, Options{}), idx)
	require.Len(t, src, 2)

	assert.Equal(t, "only.go", src[0].Name)
	assert.True(t, src[0].IsLeaf)
	assert.Equal(t, KindFile, src[0].Kind)
	assert.Equal(t, "revert_2", src[0].Session)
	assert.Equal(t, "#2", src[0].Label)

	assert.Equal(t, "shared.go", src[1].Name)
	assert.Equal(t, KindMultiSession, src[1].Kind)
	assert.Empty(t, src[1].Session)
}

func TestGroupLeavesDirectoriesAlone(t *testing.T) {
	es := sessionEntries()
	idx := IndexSessions(es)
	root := Group(Children("", es, Options{}), idx)

	var names []string
	for _, n := range root {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"src", "x"}, names)
	assert.Equal(t, KindDirectory, root[0].Kind)
	assert.Equal(t, KindMultiSession, root[1].Kind)
}

func TestGroupSkipsSessionScopedNodes(t *testing.T) {
	es := sessionEntries()
	idx := IndexSessions(es)
	scoped := Children("", es, Options{Session: "revert_1"})
	assert.Equal(t, scoped, Group(scoped, idx))
}

func TestGroupDoesNotMutateInput(t *testing.T) {
	es := sessionEntries()
	idx := IndexSessions(es)
	nodes := Children("", es, Options{})
	before := append([]Node(nil), nodes...)
	_ = Group(nodes, idx)
	assert.Equal(t, before, nodes)
}

func TestSessionVariantsUnknownPath(t *testing.T) {
	idx := IndexSessions(sessionEntries())
	assert.Empty(t, SessionVariants("missing", idx))
	assert.Nil(t, SessionVariants("", idx))
}
