package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

var newCmd = &cobra.Command{
	Use:   "new [revision]",
	Short: "Create a new commit and make it the working copy",
	Long: `Create a new commit on top of a revision (the working copy by default)
and edit it. Files can be written or removed in the new commit directly.

Examples:
  opvc new -m "add readme" --file README.md="hello"
  opvc new main --remove old.txt`,
	Args: cobra.MaximumNArgs(1),
	Run:  runNew,
}

var (
	newMessage string
	newFiles   []string
	newRemoves []string
)

func init() {
	newCmd.Flags().StringVarP(&newMessage, "message", "m", "", "Commit description")
	newCmd.Flags().StringArrayVar(&newFiles, "file", nil, "Write a file, as path=contents (repeatable)")
	newCmd.Flags().StringArrayVar(&newRemoves, "remove", nil, "Remove a path (repeatable)")
}

// fileChange is one --file or --remove flag. Removals have nil contents.
type fileChange struct {
	path     models.RepoPath
	contents []byte
}

func parseFileChanges(files, removes []string) ([]fileChange, error) {
	var out []fileChange
	for _, f := range files {
		path, contents, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --file %q: expected path=contents", f)
		}
		p, err := models.NewRepoPath(path)
		if err != nil || p.IsRoot() {
			return nil, fmt.Errorf("invalid --file path %q", path)
		}
		out = append(out, fileChange{path: p, contents: []byte(contents)})
	}
	for _, r := range removes {
		p, err := models.NewRepoPath(r)
		if err != nil || p.IsRoot() {
			return nil, fmt.Errorf("invalid --remove path %q", r)
		}
		out = append(out, fileChange{path: p})
	}
	return out, nil
}

// applyFileChanges writes changes on top of base.
func applyFileChanges(ctx context.Context, st *store.Store, base models.MergedTreeID, changes []fileChange) (models.MergedTreeID, error) {
	if len(changes) == 0 {
		return base, nil
	}
	baseID, ok := base.AsResolved()
	if !ok {
		return models.MergedTreeID{}, fmt.Errorf("cannot write files on top of a conflicted tree")
	}
	b := st.TreeBuilder(baseID)
	for _, ch := range changes {
		if ch.contents == nil {
			b.Remove(ch.path)
			continue
		}
		id, err := st.WriteFile(ctx, ch.path, ch.contents)
		if err != nil {
			return models.MergedTreeID{}, fmt.Errorf("write %s: %w", ch.path, err)
		}
		b.Set(ch.path, models.FileValue(id, false))
	}
	id, err := b.WriteTree(ctx)
	if err != nil {
		return models.MergedTreeID{}, err
	}
	return models.ResolvedTree(id), nil
}

func runNew(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	changes, err := parseFileChanges(newFiles, newRemoves)
	if err != nil {
		exitError("%v", err)
	}
	rev := "@"
	if len(args) == 1 {
		rev = args[0]
	}
	parent, err := resolveRevision(ctx, c.Repo, c.WorkingCopy.WorkspaceID(), rev)
	if err != nil {
		exitError("%v", err)
	}
	tree, err := applyFileChanges(ctx, c.Repo.Store(), parent.TreeID(), changes)
	if err != nil {
		exitError("%v", err)
	}

	tx := c.Repo.StartTransaction()
	mut := tx.Repo()
	commit, err := mut.NewCommit([]models.CommitID{parent.ID()}, tree).
		SetDescription(newMessage).
		Write(ctx)
	if err != nil {
		exitError("failed to write commit: %v", err)
	}
	if err := mut.Edit(ctx, c.WorkingCopy.WorkspaceID(), commit); err != nil {
		exitError("failed to edit commit: %v", err)
	}
	c.finish(ctx, tx, "new empty commit")

	color.Green("Working copy now at %s", describeCommit(commit))
}
