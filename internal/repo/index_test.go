package repo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/opvc/internal/backend/memory"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

// testGraph writes commits whose parents are given by name. Commits without
// listed parents sit on the root.
type testGraph struct {
	t   *testing.T
	st  *store.Store
	ids map[string]models.CommitID
}

func newTestGraph(t *testing.T) *testGraph {
	return &testGraph{t: t, st: store.New(memory.New(nil), nil), ids: make(map[string]models.CommitID)}
}

func (g *testGraph) add(name string, parents ...string) models.CommitID {
	g.t.Helper()
	ps := []models.CommitID{g.st.RootCommitID()}
	if len(parents) > 0 {
		ps = ps[:0]
		for _, p := range parents {
			ps = append(ps, g.ids[p])
		}
	}
	c, err := g.st.WriteCommit(context.Background(), &models.Commit{
		Parents:     ps,
		RootTree:    models.ResolvedTree(g.st.EmptyTreeID()),
		ChangeID:    models.ChangeID(fmt.Sprintf("%016s", name)),
		Description: name,
	})
	require.NoError(g.t, err)
	g.ids[name] = c.ID()
	return c.ID()
}

func (g *testGraph) names(ids []models.CommitID) []string {
	byID := make(map[models.CommitID]string, len(g.ids))
	for name, id := range g.ids {
		byID[id] = name
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

//	d   e
//	|\ /
//	b c
//	 \|
//	  a
func diamond(t *testing.T) *testGraph {
	g := newTestGraph(t)
	g.add("a")
	g.add("b", "a")
	g.add("c", "a")
	g.add("d", "b", "c")
	g.add("e", "c")
	return g
}

func TestIndex_IsAncestor(t *testing.T) {
	ctx := context.Background()
	g := diamond(t)
	ix := NewIndex(g.st)

	for _, tc := range []struct {
		ancestor, descendant string
		want                 bool
	}{
		{"a", "d", true},
		{"c", "d", true},
		{"b", "e", false},
		{"d", "a", false},
		{"e", "e", true},
	} {
		got, err := ix.IsAncestor(ctx, g.ids[tc.ancestor], g.ids[tc.descendant])
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.ancestor, tc.descendant)
	}
	root, err := ix.IsAncestor(ctx, g.st.RootCommitID(), g.ids["e"])
	require.NoError(t, err)
	assert.True(t, root)
}

func TestIndex_Heads(t *testing.T) {
	ctx := context.Background()
	g := diamond(t)
	ix := NewIndex(g.st)

	heads, err := ix.Heads(ctx, []models.CommitID{g.ids["a"], g.ids["b"], g.ids["d"], g.ids["e"]})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d", "e"}, g.names(heads))

	heads, err = ix.Heads(ctx, []models.CommitID{g.ids["b"], g.ids["c"]})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, g.names(heads))
}

func TestIndex_WalkRevs(t *testing.T) {
	ctx := context.Background()
	g := diamond(t)
	ix := NewIndex(g.st)

	revs, err := ix.WalkRevs(ctx, []models.CommitID{g.ids["d"]}, []models.CommitID{g.ids["e"]})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b"}, g.names(revs))

	revs, err = ix.WalkRevs(ctx, []models.CommitID{g.ids["e"]}, []models.CommitID{g.ids["d"]})
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, g.names(revs))
}

func TestIndex_CommonAncestor(t *testing.T) {
	ctx := context.Background()
	g := diamond(t)
	ix := NewIndex(g.st)

	id, err := ix.CommonAncestor(ctx, []models.CommitID{g.ids["b"]}, []models.CommitID{g.ids["e"]})
	require.NoError(t, err)
	assert.Equal(t, "a", g.names([]models.CommitID{id})[0])

	id, err = ix.CommonAncestor(ctx, []models.CommitID{g.ids["d"]}, []models.CommitID{g.ids["e"]})
	require.NoError(t, err)
	assert.Equal(t, "c", g.names([]models.CommitID{id})[0])
}

func TestIndex_MissingCommit(t *testing.T) {
	g := newTestGraph(t)
	_, err := NewIndex(g.st).Parents(context.Background(), models.CommitID("nope"))
	assert.ErrorIs(t, err, ErrCommitNotFound)
}

func TestDagHeads(t *testing.T) {
	parents := map[int][]int{1: nil, 2: {1}, 3: {1}, 4: {2}}
	heads, err := dagHeads([]int{1, 2, 3, 4, 4},
		func(n int) int { return n },
		func(n int) ([]int, error) { return parents[n], nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, heads)
}

func TestClosestCommonNode(t *testing.T) {
	parents := map[int][]int{1: nil, 2: {1}, 3: {1}, 4: {2}, 5: {4, 3}, 6: {3}}
	neighbors := func(n int) ([]int, error) { return parents[n], nil }
	id := func(n int) int { return n }

	got, ok, err := closestCommonNode([]int{5}, []int{6}, id, neighbors)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got)

	got, ok, err = closestCommonNode([]int{4}, []int{2}, id, neighbors)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got)

	_, ok, err = closestCommonNode([]int{4}, []int{99}, id, neighbors)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeRefTargets(t *testing.T) {
	ctx := context.Background()
	g := diamond(t)
	ix := NewIndex(g.st)
	ref := func(name string) models.RefTarget { return models.NormalRef(g.ids[name]) }

	// One side unchanged.
	got, err := mergeRefTargets(ctx, ix, ref("b"), ref("a"), ref("a"))
	require.NoError(t, err)
	assert.Equal(t, ref("b"), got)

	// Both sides made the same change.
	got, err = mergeRefTargets(ctx, ix, ref("d"), ref("a"), ref("d"))
	require.NoError(t, err)
	assert.Equal(t, ref("d"), got)

	// One side moved further along the same line: fast-forward.
	got, err = mergeRefTargets(ctx, ix, ref("d"), ref("a"), ref("b"))
	require.NoError(t, err)
	assert.Equal(t, ref("d"), got)

	// Divergent moves conflict.
	got, err = mergeRefTargets(ctx, ix, ref("d"), ref("a"), ref("e"))
	require.NoError(t, err)
	assert.True(t, got.HasConflict())
	assert.Equal(t, []models.CommitID{g.ids["d"], g.ids["e"]}, got.AddedIDs())
	assert.Equal(t, []models.CommitID{g.ids["a"]}, got.RemovedIDs())

	// Delete on one side, no change on the other.
	got, err = mergeRefTargets(ctx, ix, models.AbsentRef(), ref("a"), ref("a"))
	require.NoError(t, err)
	assert.True(t, got.IsAbsent())

	// Created on one side only.
	got, err = mergeRefTargets(ctx, ix, models.RefTarget{}, models.RefTarget{}, ref("e"))
	require.NoError(t, err)
	assert.Equal(t, ref("e"), got)
}

func TestMergeRemoteRefs_StateFollowsChange(t *testing.T) {
	ctx := context.Background()
	g := diamond(t)
	ix := NewIndex(g.st)
	tracked := models.RemoteRef{Target: models.NormalRef(g.ids["a"]), State: models.RemoteRefTracking}
	untracked := models.RemoteRef{Target: models.NormalRef(g.ids["a"]), State: models.RemoteRefNew}

	got, err := mergeRemoteRefs(ctx, ix, untracked, untracked, tracked)
	require.NoError(t, err)
	assert.Equal(t, models.RemoteRefTracking, got.State)

	got, err = mergeRemoteRefs(ctx, ix, models.RemoteRef{}, untracked, untracked)
	require.NoError(t, err)
	assert.True(t, got.Target.IsAbsent())
	assert.Equal(t, models.RemoteRefNew, got.State)
}
