package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/opvc/internal/backend/memory"
	"github.com/kilupskalvis/opvc/internal/merge"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/opheads"
	"github.com/kilupskalvis/opvc/internal/opstore"
	"github.com/kilupskalvis/opvc/internal/repo"
	"github.com/kilupskalvis/opvc/internal/store"
	"github.com/kilupskalvis/opvc/internal/workingcopy"
)

func newTestRepo(t *testing.T) *repo.ReadonlyRepo {
	t.Helper()
	seed := int64(1)
	b := memory.New(nil)
	ops := opstore.NewMemory(b.RootCommitID(), nil)
	heads := opheads.NewMemory(ops.RootOperationID(), nil)
	r, err := repo.InitWithStores(context.Background(), repo.Stores{Backend: b, OpStore: ops, OpHeads: heads},
		repo.Settings{UserName: "Test", UserEmail: "test@example.com", RandomnessSeed: &seed}, nil)
	require.NoError(t, err)
	return r
}

func writeTree(t *testing.T, st *store.Store, files map[string]string) models.TreeID {
	t.Helper()
	var specs []string
	for path, contents := range files {
		specs = append(specs, path+"="+contents)
	}
	changes, err := parseFileChanges(specs, nil)
	require.NoError(t, err)
	tree, err := applyFileChanges(context.Background(), st, models.ResolvedTree(st.EmptyTreeID()), changes)
	require.NoError(t, err)
	id, ok := tree.AsResolved()
	require.True(t, ok)
	return id
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("info", "json", &buf)
	l.Debug("hidden")
	l.Info("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"key":"value"`)

	buf.Reset()
	l = newLogger("bogus", "text", &buf)
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, l.Enabled(context.Background(), slog.LevelWarn))
	l.Warn("careful")
	assert.Contains(t, buf.String(), "msg=careful")
}

func TestParseFileChanges(t *testing.T) {
	changes, err := parseFileChanges([]string{"a/b.txt=hello=world", "empty="}, []string{"old.txt"})
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, models.RepoPath("a/b.txt"), changes[0].path)
	assert.Equal(t, "hello=world", string(changes[0].contents))
	assert.NotNil(t, changes[1].contents)
	assert.Empty(t, changes[1].contents)
	assert.Nil(t, changes[2].contents)

	for _, bad := range [][]string{{"no-separator"}, {"=x"}, {"a/../b=x"}} {
		_, err := parseFileChanges(bad, nil)
		assert.Error(t, err, bad)
	}
	_, err = parseFileChanges(nil, []string{""})
	assert.Error(t, err)
}

func TestApplyFileChanges(t *testing.T) {
	ctx := context.Background()
	st := newTestRepo(t).Store()
	base := writeTree(t, st, map[string]string{"keep": "1", "drop": "2"})

	changes, err := parseFileChanges([]string{"dir/new=3"}, []string{"drop"})
	require.NoError(t, err)
	tree, err := applyFileChanges(ctx, st, models.ResolvedTree(base), changes)
	require.NoError(t, err)

	entries, err := treeEntries(ctx, st, tree)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, models.RepoPath("keep"))
	assert.Contains(t, entries, models.RepoPath("dir/new"))

	unchanged, err := applyFileChanges(ctx, st, models.ResolvedTree(base), nil)
	require.NoError(t, err)
	assert.True(t, unchanged.Equal(models.ResolvedTree(base)))

	side1 := writeTree(t, st, map[string]string{"keep": "2"})
	side2 := writeTree(t, st, map[string]string{"keep": "3"})
	conflicted := models.MergedTree(merge.New([]models.TreeID{base}, []models.TreeID{side1, side2}))
	_, err = applyFileChanges(ctx, st, conflicted, changes)
	assert.Error(t, err)
}

func TestDiffTrees(t *testing.T) {
	ctx := context.Background()
	st := newTestRepo(t).Store()
	from := writeTree(t, st, map[string]string{"same": "s", "changed": "1", "removed": "r"})
	to := writeTree(t, st, map[string]string{"same": "s", "changed": "2", "added": "a"})

	changes, err := diffTrees(ctx, st, models.ResolvedTree(from), models.ResolvedTree(to))
	require.NoError(t, err)
	assert.Equal(t, []pathChange{
		{Path: "added", Status: 'A'},
		{Path: "changed", Status: 'M'},
		{Path: "removed", Status: 'D'},
	}, changes)
}

func TestDiffTrees_ConflictedSide(t *testing.T) {
	ctx := context.Background()
	st := newTestRepo(t).Store()
	base := writeTree(t, st, map[string]string{"f": "1", "g": "g"})
	side1 := writeTree(t, st, map[string]string{"f": "2", "g": "g"})
	side2 := writeTree(t, st, map[string]string{"f": "3", "g": "g"})
	conflicted := models.MergedTree(merge.New([]models.TreeID{base}, []models.TreeID{side1, side2}))

	changes, err := diffTrees(ctx, st, models.ResolvedTree(base), conflicted)
	require.NoError(t, err)
	assert.Equal(t, []pathChange{{Path: "f", Status: 'C'}}, changes)
}

func TestResolveRevision(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	ws := repo.DefaultWorkspace
	rootID := r.Store().RootCommitID()

	wc, err := resolveRevision(ctx, r, ws, "@")
	require.NoError(t, err)
	assert.Equal(t, r.View().WCCommitIDs[ws], wc.ID())

	parent, err := resolveRevision(ctx, r, ws, "@-")
	require.NoError(t, err)
	assert.Equal(t, rootID, parent.ID())

	root, err := resolveRevision(ctx, r, ws, "root")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	_, err = resolveRevision(ctx, r, ws, "root-")
	assert.Error(t, err)

	byHex, err := resolveRevision(ctx, r, ws, wc.ID().Hex())
	require.NoError(t, err)
	assert.Equal(t, wc.ID(), byHex.ID())

	_, err = resolveRevision(ctx, r, ws, wc.ID().Hex()[:12])
	assert.Error(t, err)
	_, err = resolveRevision(ctx, r, ws, "nope")
	assert.Error(t, err)
	_, err = resolveRevision(ctx, r, "other", "@")
	assert.Error(t, err)
}

func TestResolveRevision_Bookmarks(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	ws := repo.DefaultWorkspace
	wcID := r.View().WCCommitIDs[ws]
	rootID := r.Store().RootCommitID()

	tx := r.StartTransaction()
	tx.Repo().SetLocalBookmark("main", models.NormalRef(wcID))
	tx.Repo().SetTag("v1", models.NormalRef(rootID))
	tx.Repo().SetLocalBookmark("split", models.RefTargetFromMerge(merge.New(
		[]models.CommitID{""}, []models.CommitID{wcID, rootID})))
	r, err := tx.Commit(ctx, "set refs")
	require.NoError(t, err)

	main, err := resolveRevision(ctx, r, ws, "main")
	require.NoError(t, err)
	assert.Equal(t, wcID, main.ID())

	mainParent, err := resolveRevision(ctx, r, ws, "main-")
	require.NoError(t, err)
	assert.Equal(t, rootID, mainParent.ID())

	tag, err := resolveRevision(ctx, r, ws, "v1")
	require.NoError(t, err)
	assert.Equal(t, rootID, tag.ID())

	_, err = resolveRevision(ctx, r, ws, "split")
	assert.ErrorContains(t, err, "conflicted")
}

func TestOperationHistory(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	r, err := r.StartTransaction().Commit(ctx, "second")
	require.NoError(t, err)

	ops, err := operationHistory(ctx, r.Loader(), r.Operation())
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, r.Operation().ID(), ops[0].ID())
	assert.Equal(t, "second", ops[0].Metadata().Description)
	assert.Empty(t, ops[2].Parents())
}

func TestWriteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_events_total", Help: "Events."})
	reg.MustRegister(c)
	c.Add(3)

	path := filepath.Join(t.TempDir(), "metrics.txt")
	require.NoError(t, writeMetrics(path, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# TYPE test_events_total counter")
	assert.Contains(t, string(data), "test_events_total 3")

	assert.Error(t, writeMetrics(filepath.Join(t.TempDir(), "missing", "metrics.txt"), reg))
}

func TestWriteMetrics_DefaultGathererHasRepoCounters(t *testing.T) {
	newTestRepo(t)
	path := filepath.Join(t.TempDir(), "metrics.txt")
	require.NoError(t, writeMetrics(path, prometheus.DefaultGatherer))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `opvc_store_objects_written_total{kind="commit"}`)
	assert.Contains(t, string(data), "opvc_opheads_promotions_total")
}

func TestCheckOutWC_ExpectedOldFromBaseRepo(t *testing.T) {
	ctx := context.Background()
	base := newTestRepo(t)
	ws := repo.DefaultWorkspace
	st := base.Store()

	before, err := wcTree(ctx, base, ws)
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.Equal(t, st.EmptyTreeID(), *before)

	tx := base.StartTransaction()
	tree := writeTree(t, st, map[string]string{"a": "1"})
	target, err := tx.Repo().NewCommit([]models.CommitID{st.RootCommitID()}, models.ResolvedTree(tree)).Write(ctx)
	require.NoError(t, err)
	_, err = tx.Repo().CheckOut(ctx, ws, target)
	require.NoError(t, err)
	r, err := tx.Commit(ctx, "check out")
	require.NoError(t, err)

	// Files that drifted from the base repo's working-copy commit block the update.
	drifted := &workingcopy.MockWorkingCopy{Workspace: ws, Tree: writeTree(t, st, map[string]string{"b": "2"})}
	_, _, err = checkOutWC(ctx, drifted, r, before)
	assert.ErrorIs(t, err, workingcopy.ErrConcurrentCheckout)
	assert.Zero(t, drifted.CheckOuts)

	wc := &workingcopy.MockWorkingCopy{Workspace: ws, Tree: *before}
	commit, stats, err := checkOutWC(ctx, wc, r, before)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, r.View().WCCommitIDs[ws], commit.ID())
	assert.Equal(t, tree, wc.Tree)
	assert.Equal(t, r.Operation().ID(), wc.Operation)

	commit, stats, err = checkOutWC(ctx, &workingcopy.MockWorkingCopy{Workspace: "other"}, r, nil)
	assert.NoError(t, err)
	assert.Nil(t, commit)
	assert.Nil(t, stats)
}

func TestGenCompletion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		var buf bytes.Buffer
		require.NoError(t, genCompletion(rootCmd, &buf, shell), shell)
		assert.Contains(t, buf.String(), "opvc", shell)
	}
	assert.Error(t, genCompletion(rootCmd, &bytes.Buffer{}, "tcsh"))
}

func TestRevisionCandidates(t *testing.T) {
	view := models.NewView()
	view.LocalBookmarks["main"] = models.NormalRef("c1")
	view.LocalBookmarks["feature"] = models.NormalRef("c2")
	view.Tags["v1"] = models.NormalRef("c1")
	view.Tags["main"] = models.NormalRef("c3")

	assert.Equal(t, []string{"@", "root", "feature", "main", "v1"}, revisionCandidates(view, ""))
	assert.Equal(t, []string{"main"}, revisionCandidates(view, "m"))
	assert.Nil(t, revisionCandidates(view, "x"))
	assert.Equal(t, []string{"feature"}, withPrefix(sortedKeys(view.LocalBookmarks), "f"))
}
