package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/opvc/internal/backend"
	"github.com/kilupskalvis/opvc/internal/backend/memory"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/opheads"
	"github.com/kilupskalvis/opvc/internal/opstore"
	"github.com/kilupskalvis/opvc/internal/store"
)

// tickingClock advances one second on every read.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func testSettings() Settings {
	seed := int64(7)
	clock := &tickingClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return Settings{
		UserName:       "Test User",
		UserEmail:      "test.user@example.com",
		Hostname:       "host.example.com",
		Username:       "test-user",
		RandomnessSeed: &seed,
		Now:            clock.Now,
	}
}

func newTestRepo(t *testing.T) *ReadonlyRepo {
	t.Helper()
	b := memory.New(nil)
	ops := opstore.NewMemory(b.RootCommitID(), nil)
	heads := opheads.NewMemory(ops.RootOperationID(), nil)
	repo, err := InitWithStores(context.Background(), Stores{Backend: b, OpStore: ops, OpHeads: heads}, testSettings(), nil)
	require.NoError(t, err)
	return repo
}

// treeWith writes a tree holding one file per path.
func treeWith(t *testing.T, st *store.Store, files map[string]string) models.MergedTreeID {
	t.Helper()
	ctx := context.Background()
	b := st.TreeBuilder(st.EmptyTreeID())
	for path, contents := range files {
		id, err := st.WriteFile(ctx, models.RepoPath(path), []byte(contents))
		require.NoError(t, err)
		b.Set(models.RepoPath(path), models.FileValue(id, false))
	}
	id, err := b.WriteTree(ctx)
	require.NoError(t, err)
	return models.ResolvedTree(id)
}

func newCommit(t *testing.T, tx *Transaction, parents []models.CommitID, files map[string]string, description string) *store.Commit {
	t.Helper()
	if len(parents) == 0 {
		parents = []models.CommitID{tx.Repo().Store().RootCommitID()}
	}
	c, err := tx.Repo().NewCommit(parents, treeWith(t, tx.Repo().Store(), files)).
		SetDescription(description).
		Write(context.Background())
	require.NoError(t, err)
	return c
}

func commit(t *testing.T, tx *Transaction, description string) *ReadonlyRepo {
	t.Helper()
	repo, err := tx.Commit(context.Background(), description)
	require.NoError(t, err)
	return repo
}

func opHeadIDs(t *testing.T, r *ReadonlyRepo) []models.OperationID {
	t.Helper()
	heads, err := r.OpHeadsStore().GetOpHeads(context.Background())
	require.NoError(t, err)
	return heads
}

func fileContents(t *testing.T, st *store.Store, c *store.Commit) map[string]string {
	t.Helper()
	ctx := context.Background()
	tree, err := c.Tree(ctx)
	require.NoError(t, err)
	entries, err := tree.Entries(ctx)
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for path, v := range entries {
		require.Equal(t, models.KindFile, v.Kind, path)
		data, err := st.ReadFile(ctx, path, models.FileID(v.ID))
		require.NoError(t, err)
		out[string(path)] = string(data)
	}
	return out
}

func TestInit(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	assert.Equal(t, []models.OperationID{repo.Operation().ID()}, opHeadIDs(t, repo))
	assert.Equal(t, "add workspace 'default'", repo.Operation().Metadata().Description)
	assert.Equal(t, []models.OperationID{repo.OpStore().RootOperationID()}, repo.Operation().Parents())
	assert.Equal(t, "host.example.com", repo.Operation().Metadata().Hostname)

	wcID, ok := repo.View().WCCommitIDs[DefaultWorkspace]
	require.True(t, ok)
	assert.Equal(t, []models.CommitID{wcID}, repo.View().Heads())
	wc, err := repo.Store().GetCommit(ctx, wcID)
	require.NoError(t, err)
	assert.Equal(t, []models.CommitID{repo.Store().RootCommitID()}, wc.Parents())
	assert.Equal(t, "Test User", wc.Author().Name)

	again, err := repo.Loader().LoadAtHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, repo.Operation().ID(), again.Operation().ID())
}

func TestTransaction_LeaveUnpublished(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	newCommit(t, tx, nil, map[string]string{"a": "a"}, "hidden")

	u, err := tx.Write(ctx, "unpublished")
	require.NoError(t, err)
	hidden, err := u.LeaveUnpublished()
	require.NoError(t, err)
	_, err = u.Publish(ctx)
	assert.ErrorIs(t, err, ErrAlreadyPublished)

	assert.Equal(t, []models.OperationID{repo.Operation().ID()}, opHeadIDs(t, repo))
	op, err := repo.Loader().ReadOperation(ctx, hidden.Operation().ID())
	require.NoError(t, err)
	assert.Equal(t, "unpublished", op.Metadata().Description)
}

func TestTransaction_PublishReplacesParent(t *testing.T) {
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	tx.SetTag("args", "opvc new")
	newCommit(t, tx, nil, map[string]string{"a": "a"}, "first")
	next := commit(t, tx, "new commit")

	assert.Equal(t, []models.OperationID{next.Operation().ID()}, opHeadIDs(t, repo))
	assert.Equal(t, []models.OperationID{repo.Operation().ID()}, next.Operation().Parents())
	assert.Equal(t, map[string]string{"args": "opvc new"}, next.Operation().Metadata().Tags)
	assert.True(t, next.Operation().Metadata().StartTime.Before(next.Operation().Metadata().EndTime))
}

func TestTransaction_WritePanicsWithPendingRewrites(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	c := newCommit(t, tx, nil, map[string]string{"a": "a"}, "c")
	tx.Repo().RecordAbandonedCommit(c.ID())
	assert.Panics(t, func() { _, _ = tx.Write(ctx, "bad") })
}

func TestConcurrentBookmarkUpdatesConflict(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tx := repo.StartTransaction()
	c1 := newCommit(t, tx, nil, map[string]string{"f": "1"}, "c1")
	tx.Repo().SetLocalBookmark("main", models.NormalRef(c1.ID()))
	base := commit(t, tx, "c1")

	tx1 := base.StartTransaction()
	c2 := newCommit(t, tx1, []models.CommitID{c1.ID()}, map[string]string{"f": "2"}, "c2")
	tx1.Repo().SetLocalBookmark("main", models.NormalRef(c2.ID()))
	tx2 := base.StartTransaction()
	c3 := newCommit(t, tx2, []models.CommitID{c1.ID()}, map[string]string{"f": "3"}, "c3")
	tx2.Repo().SetLocalBookmark("main", models.NormalRef(c3.ID()))
	op1 := commit(t, tx1, "move main to c2")
	op2 := commit(t, tx2, "move main to c3")

	assert.ElementsMatch(t, []models.OperationID{op1.Operation().ID(), op2.Operation().ID()}, opHeadIDs(t, base))

	merged, err := base.Loader().LoadAtHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, mergeDescription, merged.Operation().Metadata().Description)
	assert.ElementsMatch(t, []models.OperationID{op1.Operation().ID(), op2.Operation().ID()}, merged.Operation().Parents())
	assert.Equal(t, []models.OperationID{merged.Operation().ID()}, opHeadIDs(t, base))

	main := merged.View().LocalBookmark("main")
	assert.True(t, main.HasConflict())
	assert.Equal(t, []models.CommitID{c2.ID(), c3.ID()}, main.AddedIDs())
	assert.Equal(t, []models.CommitID{c1.ID()}, main.RemovedIDs())
	assert.Contains(t, merged.View().HeadIDs, c2.ID())
	assert.Contains(t, merged.View().HeadIDs, c3.ID())

	// A second load sees the single merged head.
	again, err := base.Loader().LoadAtHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, merged.Operation().ID(), again.Operation().ID())
}

func TestLoadAtHead_RemovesStaleHeads(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	newCommit(t, tx, nil, map[string]string{"a": "a"}, "a")
	next := commit(t, tx, "a")

	// Simulate a writer that added its head but died before removing the
	// parent.
	require.NoError(t, repo.OpHeadsStore().AddOpHead(ctx, repo.Operation().ID()))
	require.Len(t, opHeadIDs(t, repo), 2)

	loaded, err := repo.Loader().LoadAtHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.Operation().ID(), loaded.Operation().ID())
	assert.Equal(t, []models.OperationID{next.Operation().ID()}, opHeadIDs(t, repo))
}

func TestLoadAtHead_NoHeads(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.OpHeadsStore().RemoveOpHead(context.Background(), repo.Operation().ID()))
	_, err := repo.Loader().LoadAtHead(context.Background())
	assert.ErrorIs(t, err, opheads.ErrNoHeads)
}

func TestMergeOperations_Symmetric(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tx1 := repo.StartTransaction()
	a := newCommit(t, tx1, nil, map[string]string{"a": "a"}, "a")
	tx1.Repo().SetLocalBookmark("a", models.NormalRef(a.ID()))
	tx2 := repo.StartTransaction()
	b := newCommit(t, tx2, nil, map[string]string{"b": "b"}, "b")
	tx2.Repo().SetLocalBookmark("b", models.NormalRef(b.ID()))
	opA := commit(t, tx1, "a").Operation()
	opB := commit(t, tx2, "b").Operation()

	loader := repo.Loader()
	ab, err := loader.MergeOperations(ctx, opA, opB)
	require.NoError(t, err)
	ba, err := loader.MergeOperations(ctx, opB, opA)
	require.NoError(t, err)
	abRepo, err := ab.LeaveUnpublished()
	require.NoError(t, err)
	baRepo, err := ba.LeaveUnpublished()
	require.NoError(t, err)

	assert.Equal(t, abRepo.Operation().Data().ViewID, baRepo.Operation().Data().ViewID)
	assert.Equal(t, abRepo.Operation().Parents(), baRepo.Operation().Parents())
	assert.Equal(t, models.NormalRef(a.ID()), abRepo.View().LocalBookmark("a"))
	assert.Equal(t, models.NormalRef(b.ID()), abRepo.View().LocalBookmark("b"))
}

func TestMergeOperation_AlreadyIncluded(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	newCommit(t, tx, nil, map[string]string{"a": "a"}, "a")
	next := commit(t, tx, "a")

	tx = next.StartTransaction()
	require.NoError(t, tx.MergeOperation(ctx, next.Operation()))
	assert.Len(t, tx.ParentOperations(), 1)

	// Merging an ancestor changes nothing in the view.
	require.NoError(t, tx.MergeOperation(ctx, repo.Operation()))
	assert.False(t, tx.Repo().HasChanges())
	assert.False(t, tx.Repo().HasRewrites())
}

func TestRebaseDescendants_Rewrite(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	c1 := newCommit(t, tx, nil, map[string]string{"a": "1"}, "c1")
	c2 := newCommit(t, tx, []models.CommitID{c1.ID()}, map[string]string{"a": "1", "b": "2"}, "c2")
	tx.Repo().SetLocalBookmark("top", models.NormalRef(c2.ID()))
	repo = commit(t, tx, "two commits")

	tx = repo.StartTransaction()
	c1v2, err := tx.Repo().RewriteCommit(c1).
		SetTree(treeWith(t, repo.Store(), map[string]string{"a": "10"})).
		SetDescription("c1 again").
		Write(ctx)
	require.NoError(t, err)
	assert.Equal(t, c1.ChangeID(), c1v2.ChangeID())
	assert.Equal(t, []models.CommitID{c1.ID()}, c1v2.Predecessors())

	n, err := tx.Repo().RebaseDescendants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, tx.Repo().HasRewrites())

	top, ok := tx.Repo().LocalBookmark("top").AsNormal()
	require.True(t, ok)
	assert.NotEqual(t, c2.ID(), top)
	rebased, err := repo.Store().GetCommit(ctx, top)
	require.NoError(t, err)
	assert.Equal(t, c2.ChangeID(), rebased.ChangeID())
	assert.Equal(t, []models.CommitID{c1v2.ID()}, rebased.Parents())
	assert.Equal(t, map[string]string{"a": "10", "b": "2"}, fileContents(t, repo.Store(), rebased))
	assert.Contains(t, tx.Repo().View().HeadIDs, top)
	assert.NotContains(t, tx.Repo().View().HeadIDs, c2.ID())

	_, err = tx.Commit(ctx, "rewrite c1")
	require.NoError(t, err)
}

func TestRebaseDescendants_Abandon(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	c1 := newCommit(t, tx, nil, map[string]string{"a": "1"}, "c1")
	c2 := newCommit(t, tx, []models.CommitID{c1.ID()}, map[string]string{"a": "1", "b": "2"}, "c2")
	tx.Repo().SetLocalBookmark("c1", models.NormalRef(c1.ID()))
	repo = commit(t, tx, "two commits")

	tx = repo.StartTransaction()
	tx.Repo().RecordAbandonedCommit(c1.ID())
	n, err := tx.Repo().RebaseDescendants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	heads := tx.Repo().View().Heads()
	var rebased *store.Commit
	for _, id := range heads {
		c, err := repo.Store().GetCommit(ctx, id)
		require.NoError(t, err)
		if c.ChangeID() == c2.ChangeID() {
			rebased = c
		}
	}
	require.NotNil(t, rebased)
	assert.Equal(t, []models.CommitID{repo.Store().RootCommitID()}, rebased.Parents())
	assert.Equal(t, map[string]string{"b": "2"}, fileContents(t, repo.Store(), rebased))

	// The bookmark follows the abandoned commit to its parent.
	assert.Equal(t, models.NormalRef(repo.Store().RootCommitID()), tx.Repo().LocalBookmark("c1"))
}

func TestConcurrentRewriteAndChild(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	c1 := newCommit(t, tx, nil, map[string]string{"a": "1"}, "c1")
	base := commit(t, tx, "c1")

	// One writer rewrites c1, the other builds on the old c1.
	tx1 := base.StartTransaction()
	c1v2, err := tx1.Repo().RewriteCommit(c1).SetDescription("described").Write(ctx)
	require.NoError(t, err)
	_, err = tx1.Repo().RebaseDescendants(ctx)
	require.NoError(t, err)
	tx2 := base.StartTransaction()
	child := newCommit(t, tx2, []models.CommitID{c1.ID()}, map[string]string{"a": "1", "b": "b"}, "child")
	commit(t, tx1, "describe c1")
	commit(t, tx2, "add child")

	merged, err := base.Loader().LoadAtHead(ctx)
	require.NoError(t, err)
	var found bool
	for _, id := range merged.View().Heads() {
		c, err := merged.Store().GetCommit(ctx, id)
		require.NoError(t, err)
		if c.ChangeID() == child.ChangeID() {
			found = true
			assert.Equal(t, []models.CommitID{c1v2.ID()}, c.Parents())
		}
		assert.NotEqual(t, c1.ID(), id)
	}
	assert.True(t, found, "child should be rebased onto the rewritten commit")
}

func TestUndoOperation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	c := newCommit(t, tx, nil, map[string]string{"a": "a"}, "c")
	repo = commit(t, tx, "c")

	tx = repo.StartTransaction()
	tx.Repo().SetLocalBookmark("main", models.NormalRef(c.ID()))
	setMain := commit(t, tx, "set main")

	tx = setMain.StartTransaction()
	tx.Repo().SetLocalBookmark("other", models.NormalRef(c.ID()))
	setOther := commit(t, tx, "set other")

	tx = setOther.StartTransaction()
	require.NoError(t, tx.UndoOperation(ctx, setMain.Operation()))
	_, err := tx.Repo().RebaseDescendants(ctx)
	require.NoError(t, err)
	undone := commit(t, tx, "undo")

	assert.True(t, undone.View().LocalBookmark("main").IsAbsent())
	assert.Equal(t, models.NormalRef(c.ID()), undone.View().LocalBookmark("other"))

	rootOp, err := repo.Loader().ReadOperation(ctx, repo.OpStore().RootOperationID())
	require.NoError(t, err)
	assert.Error(t, undone.StartTransaction().UndoOperation(ctx, rootOp))
}

func TestRestoreView(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	tx := repo.StartTransaction()
	c := newCommit(t, tx, nil, map[string]string{"a": "a"}, "c")
	tx.Repo().SetLocalBookmark("main", models.NormalRef(c.ID()))
	later := commit(t, tx, "c")

	tx = later.StartTransaction()
	require.NoError(t, tx.RestoreView(ctx, repo.View()))
	restored := commit(t, tx, "restore")
	assert.True(t, restored.View().Equal(repo.View()))
}

func TestCheckOut_AbandonsEmptyWorkingCopy(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	oldWC := repo.View().WCCommitIDs[DefaultWorkspace]

	tx := repo.StartTransaction()
	target := newCommit(t, tx, nil, map[string]string{"a": "a"}, "target")
	wc, err := tx.Repo().CheckOut(ctx, DefaultWorkspace, target)
	require.NoError(t, err)
	_, err = tx.Repo().RebaseDescendants(ctx)
	require.NoError(t, err)
	next := commit(t, tx, "check out target")

	assert.Equal(t, wc.ID(), next.View().WCCommitIDs[DefaultWorkspace])
	assert.Equal(t, []models.CommitID{target.ID()}, wc.Parents())
	assert.NotContains(t, next.View().HeadIDs, oldWC)
	assert.Equal(t, []models.CommitID{wc.ID()}, next.View().Heads())
}

func TestGC_RemovesUnreachable(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tx := repo.StartTransaction()
	kept := newCommit(t, tx, nil, map[string]string{"kept": "k"}, "kept")
	repo = commit(t, tx, "kept")

	tx = repo.StartTransaction()
	dropped := newCommit(t, tx, nil, map[string]string{"dropped": "d"}, "dropped")
	u, err := tx.Write(ctx, "never published")
	require.NoError(t, err)
	hidden, err := u.LeaveUnpublished()
	require.NoError(t, err)

	require.NoError(t, repo.Loader().GC(ctx, time.Now().Add(time.Hour)))

	_, err = repo.Store().GetCommit(ctx, kept.ID())
	require.NoError(t, err)
	_, err = repo.Store().GetCommit(ctx, dropped.ID())
	assert.ErrorIs(t, err, backend.ErrNotFound)
	_, err = repo.OpStore().ReadOperation(ctx, hidden.Operation().ID())
	assert.ErrorIs(t, err, opstore.ErrNotFound)
}

func TestResolveOperation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	loader := repo.Loader()

	op, err := loader.ResolveOperation(ctx, "@")
	require.NoError(t, err)
	assert.Equal(t, repo.Operation().ID(), op.ID())

	op, err = loader.ResolveOperation(ctx, repo.Operation().ID().Hex()[:12])
	require.NoError(t, err)
	assert.Equal(t, repo.Operation().ID(), op.ID())
}
