package store

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/opvc/internal/backend"
	"github.com/kilupskalvis/opvc/internal/backend/memory"
	"github.com/kilupskalvis/opvc/internal/merge"
	"github.com/kilupskalvis/opvc/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(memory.New(nil), nil)
}

func file(t *testing.T, s *Store, path, contents string) models.TreeValue {
	t.Helper()
	id, err := s.WriteFile(context.Background(), models.RepoPath(path), []byte(contents))
	require.NoError(t, err)
	return models.FileValue(id, false)
}

// buildTree writes a tree holding one file per path with the given contents.
func buildTree(t *testing.T, s *Store, files map[string]string) models.TreeID {
	t.Helper()
	b := s.TreeBuilder(s.EmptyTreeID())
	for path, contents := range files {
		b.Set(models.RepoPath(path), file(t, s, path, contents))
	}
	id, err := b.WriteTree(context.Background())
	require.NoError(t, err)
	return id
}

func entries(t *testing.T, s *Store, id models.TreeID) map[models.RepoPath]models.TreeValue {
	t.Helper()
	tree, err := s.GetTree(context.Background(), models.RootPath, id)
	require.NoError(t, err)
	out, err := tree.Entries(context.Background())
	require.NoError(t, err)
	return out
}

func TestStore_WriteCommitRequiresParents(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteCommit(context.Background(), &models.Commit{
		RootTree: models.ResolvedTree(s.EmptyTreeID()),
		ChangeID: models.ChangeID("0123456789abcdef"),
	})
	assert.ErrorIs(t, err, backend.ErrNoParents)
}

func TestStore_CommitRoundTripAndCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root, err := s.RootCommit(ctx)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Empty(t, root.Parents())

	written, err := s.WriteCommit(ctx, &models.Commit{
		Parents:     []models.CommitID{s.RootCommitID()},
		RootTree:    models.ResolvedTree(buildTree(t, s, map[string]string{"a.txt": "a"})),
		ChangeID:    models.ChangeID("0123456789abcdef"),
		Description: "first",
	})
	require.NoError(t, err)
	assert.False(t, written.IsRoot())

	got, err := s.GetCommit(ctx, written.ID())
	require.NoError(t, err)
	assert.Same(t, written.Data(), got.Data())
	assert.Equal(t, "first", got.Description())

	parents, err := got.ParentCommits(ctx)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.True(t, parents[0].IsRoot())

	tree, err := got.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, tree.Names())

	_, err = s.GetCommit(ctx, models.CommitID("missing"))
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestStore_ReadThroughCacheCounters(t *testing.T) {
	ctx := context.Background()
	b := memory.New(nil)
	writer := New(b, nil)
	written, err := writer.WriteCommit(ctx, &models.Commit{
		Parents:  []models.CommitID{writer.RootCommitID()},
		RootTree: models.ResolvedTree(writer.EmptyTreeID()),
		ChangeID: models.ChangeID("0123456789abcdef"),
	})
	require.NoError(t, err)

	hits := testutil.ToFloat64(cacheHits.WithLabelValues("commit"))
	misses := testutil.ToFloat64(cacheMisses.WithLabelValues("commit"))

	// A second store over the same backend starts cold.
	reader := New(b, nil)
	first, err := reader.GetCommit(ctx, written.ID())
	require.NoError(t, err)
	assert.Equal(t, misses+1, testutil.ToFloat64(cacheMisses.WithLabelValues("commit")))
	assert.Equal(t, hits, testutil.ToFloat64(cacheHits.WithLabelValues("commit")))

	second, err := reader.GetCommit(ctx, written.ID())
	require.NoError(t, err)
	assert.Same(t, first.Data(), second.Data())
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheHits.WithLabelValues("commit")))
	assert.Equal(t, misses+1, testutil.ToFloat64(cacheMisses.WithLabelValues("commit")))

	// The writer cached on write.
	_, err = writer.GetCommit(ctx, written.ID())
	require.NoError(t, err)
	assert.Equal(t, hits+2, testutil.ToFloat64(cacheHits.WithLabelValues("commit")))
}

func TestTreeBuilder_NoOverridesReturnsBase(t *testing.T) {
	s := newTestStore(t)
	base := buildTree(t, s, map[string]string{"a": "a"})
	id, err := s.TreeBuilder(base).WriteTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, base, id)
}

func TestTreeBuilder_SetRootPanics(t *testing.T) {
	s := newTestStore(t)
	b := s.TreeBuilder(s.EmptyTreeID())
	assert.Panics(t, func() { b.Set(models.RootPath, models.FileValue("x", false)) })
	assert.Panics(t, func() { b.Remove(models.RootPath) })
}

func TestTreeBuilder_NestedAndRemovals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := buildTree(t, s, map[string]string{
		"a/b/c.txt": "c",
		"a/d.txt":   "d",
		"e.txt":     "e",
	})
	got := entries(t, s, id)
	assert.Len(t, got, 3)
	assert.Equal(t, file(t, s, "a/b/c.txt", "c"), got["a/b/c.txt"])

	// Removing the only file in a/b drops the directory.
	b := s.TreeBuilder(id)
	b.Remove("a/b/c.txt")
	id2, err := b.WriteTree(ctx)
	require.NoError(t, err)
	root, err := s.GetTree(ctx, models.RootPath, id2)
	require.NoError(t, err)
	a, err := root.SubTree(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"d.txt"}, a.Names())

	// Emptying a drops it from the root too.
	b = s.TreeBuilder(id2)
	b.Remove("a/d.txt")
	id3, err := b.WriteTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.RepoPath]models.TreeValue{"e.txt": file(t, s, "e.txt", "e")}, entries(t, s, id3))

	// The root is written even when empty.
	b = s.TreeBuilder(id3)
	b.Remove("e.txt")
	id4, err := b.WriteTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.EmptyTreeID(), id4)
}

func TestTreeBuilder_ReplaceDirectoryWithFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := buildTree(t, s, map[string]string{"a/b": "b"})

	b := s.TreeBuilder(id)
	b.Set("a", file(t, s, "a", "now a file"))
	id2, err := b.WriteTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.RepoPath]models.TreeValue{"a": file(t, s, "a", "now a file")}, entries(t, s, id2))

	// And back: writing below a file turns it into a directory.
	b = s.TreeBuilder(id2)
	b.Set("a/c", file(t, s, "a/c", "c"))
	id3, err := b.WriteTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.RepoPath]models.TreeValue{"a/c": file(t, s, "a/c", "c")}, entries(t, s, id3))
}

func TestTree_PathValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := buildTree(t, s, map[string]string{"a/b/c": "c"})
	root, err := s.GetTree(ctx, models.RootPath, id)
	require.NoError(t, err)

	v, err := root.PathValue(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, file(t, s, "a/b/c", "c"), v)

	v, err = root.PathValue(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, v.IsTree())

	v, err = root.PathValue(ctx, "a/b/c/d")
	require.NoError(t, err)
	assert.True(t, v.IsAbsent())
}

func TestMergeTrees_Clean(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := buildTree(t, s, map[string]string{"f": "1", "d/x": "1", "gone/y": "y"})
	side1 := buildTree(t, s, map[string]string{"f": "2", "d/x": "2", "gone/y": "y"})
	side2 := buildTree(t, s, map[string]string{"f": "1", "d/x": "1", "d/z": "3", "g": "3"})

	merged, err := s.MergeTrees(ctx, base, side1, side2)
	require.NoError(t, err)
	assert.Equal(t, map[models.RepoPath]models.TreeValue{
		"f":   file(t, s, "f", "2"),
		"d/x": file(t, s, "d/x", "2"),
		"d/z": file(t, s, "d/z", "3"),
		"g":   file(t, s, "g", "3"),
	}, entries(t, s, merged))

	same, err := s.MergeTrees(ctx, base, side2, side1)
	require.NoError(t, err)
	assert.Equal(t, merged, same)

	unchanged, err := s.MergeTrees(ctx, base, base, side2)
	require.NoError(t, err)
	assert.Equal(t, side2, unchanged)
}

func TestMergeTrees_Conflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := buildTree(t, s, map[string]string{"f": "1"})
	side1 := buildTree(t, s, map[string]string{"f": "2"})
	side2 := buildTree(t, s, map[string]string{"f": "3"})

	merged, err := s.MergeTrees(ctx, base, side1, side2)
	require.NoError(t, err)
	got := entries(t, s, merged)
	require.Equal(t, models.KindConflict, got["f"].Kind)

	c, err := s.ReadConflict(ctx, "f", got["f"].ConflictID())
	require.NoError(t, err)
	assert.Equal(t, []models.TreeValue{file(t, s, "f", "1")}, c.Removes)
	assert.Equal(t, []models.TreeValue{file(t, s, "f", "2"), file(t, s, "f", "3")}, c.Adds)

	// Merging the conflict with a side that undoes one of its terms resolves it.
	again, err := s.MergeTrees(ctx, side2, merged, base)
	require.NoError(t, err)
	assert.Equal(t, map[models.RepoPath]models.TreeValue{"f": file(t, s, "f", "2")}, entries(t, s, again))
}

func TestMergeMergedTrees(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := buildTree(t, s, map[string]string{"f": "1"})
	side1 := buildTree(t, s, map[string]string{"f": "2"})
	side2 := buildTree(t, s, map[string]string{"f": "1", "g": "g"})

	resolved, err := s.MergeMergedTrees(ctx, models.ResolvedTree(base), models.ResolvedTree(side1), models.ResolvedTree(side2))
	require.NoError(t, err)
	_, ok := resolved.AsResolved()
	assert.True(t, ok)

	conflicted := models.MergedTree(merge3(base, side1, side2))
	out, err := s.MergeMergedTrees(ctx, models.ResolvedTree(base), conflicted, models.ResolvedTree(side1))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Trees().Arity())
}

func merge3(base, side1, side2 models.TreeID) merge.Merge[models.TreeID] {
	return merge.New([]models.TreeID{base}, []models.TreeID{side1, side2})
}
