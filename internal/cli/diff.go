package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/merge"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show changes between revisions",
	Long: `Show the paths that differ between two revisions. By default the
working-copy commit is compared with its parents.`,
	Args: cobra.NoArgs,
	Run:  runDiff,
}

var (
	diffFrom string
	diffTo   string
	diffStat bool
)

func init() {
	diffCmd.Flags().StringVar(&diffFrom, "from", "", "Revision to compare from (default: parents of --to)")
	diffCmd.Flags().StringVar(&diffTo, "to", "@", "Revision to compare to")
	diffCmd.Flags().BoolVar(&diffStat, "stat", false, "Show a summary instead of every path")
}

// pathChange is one differing path. Status is A, M, D or C for a path that
// is conflicted on the "to" side.
type pathChange struct {
	Path   models.RepoPath
	Status byte
}

func runDiff(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	ws := c.WorkingCopy.WorkspaceID()
	to, err := resolveRevision(ctx, c.Repo, ws, diffTo)
	if err != nil {
		exitError("%v", err)
	}
	var fromTree models.MergedTreeID
	if diffFrom == "" {
		fromTree, err = c.Repo.ParentTree(ctx, to)
	} else {
		var from *store.Commit
		from, err = resolveRevision(ctx, c.Repo, ws, diffFrom)
		if err == nil {
			fromTree = from.TreeID()
		}
	}
	if err != nil {
		exitError("%v", err)
	}

	changes, err := diffTrees(ctx, c.Repo.Store(), fromTree, to.TreeID())
	if err != nil {
		exitError("failed to compute diff: %v", err)
	}
	if len(changes) == 0 {
		fmt.Println("No changes")
		return
	}
	if diffStat {
		printDiffStat(changes)
		return
	}
	printChanges(changes)
}

func printChanges(changes []pathChange) {
	colors := map[byte]*color.Color{
		'A': color.New(color.FgGreen),
		'M': color.New(color.FgYellow),
		'D': color.New(color.FgRed),
		'C': color.New(color.FgMagenta),
	}
	for _, ch := range changes {
		colors[ch.Status].Printf("%c %s\n", ch.Status, ch.Path)
	}
}

func printDiffStat(changes []pathChange) {
	counts := make(map[byte]int)
	for _, ch := range changes {
		counts[ch.Status]++
	}
	fmt.Printf(" %d paths changed", len(changes))
	if n := counts['A']; n > 0 {
		color.New(color.FgGreen).Printf(", %d added", n)
	}
	if n := counts['M']; n > 0 {
		color.New(color.FgYellow).Printf(", %d modified", n)
	}
	if n := counts['D']; n > 0 {
		color.New(color.FgRed).Printf(", %d removed", n)
	}
	if n := counts['C']; n > 0 {
		color.New(color.FgMagenta).Printf(", %d conflicted", n)
	}
	fmt.Println()
}

// diffTrees compares the file-level entries of two root trees.
func diffTrees(ctx context.Context, st *store.Store, from, to models.MergedTreeID) ([]pathChange, error) {
	before, err := treeEntries(ctx, st, from)
	if err != nil {
		return nil, err
	}
	after, err := treeEntries(ctx, st, to)
	if err != nil {
		return nil, err
	}

	var out []pathChange
	for path, v := range after {
		old, ok := before[path]
		switch {
		case v.Kind == models.KindConflict && (!ok || old != v):
			out = append(out, pathChange{Path: path, Status: 'C'})
		case !ok:
			out = append(out, pathChange{Path: path, Status: 'A'})
		case old != v:
			out = append(out, pathChange{Path: path, Status: 'M'})
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			out = append(out, pathChange{Path: path, Status: 'D'})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.Compare(out[j].Path) < 0 })
	return out, nil
}

// treeEntries lists every file below a root tree. For a conflicted root,
// paths whose terms do not resolve trivially map to a conflict value with
// no id.
func treeEntries(ctx context.Context, st *store.Store, id models.MergedTreeID) (map[models.RepoPath]models.TreeValue, error) {
	terms, err := merge.TryMap(id.Trees(), func(tid models.TreeID) (map[models.RepoPath]models.TreeValue, error) {
		tree, err := st.GetTree(ctx, models.RootPath, tid)
		if err != nil {
			return nil, err
		}
		return tree.Entries(ctx)
	})
	if err != nil {
		return nil, err
	}
	if resolved, ok := terms.AsResolved(); ok {
		return resolved, nil
	}

	paths := make(map[models.RepoPath]struct{})
	for _, side := range [][]map[models.RepoPath]models.TreeValue{terms.Removes(), terms.Adds()} {
		for _, m := range side {
			for p := range m {
				paths[p] = struct{}{}
			}
		}
	}
	out := make(map[models.RepoPath]models.TreeValue, len(paths))
	for p := range paths {
		values := merge.Map(terms, func(m map[models.RepoPath]models.TreeValue) models.TreeValue { return m[p] })
		v, ok := merge.ResolveTrivial(values)
		if !ok {
			v = models.TreeValue{Kind: models.KindConflict}
		}
		if !v.IsAbsent() {
			out[p] = v
		}
	}
	return out, nil
}
