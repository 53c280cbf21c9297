package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the working-copy commit and its changes",
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	wc := c.wcCommit(ctx)
	view := c.Repo.View()
	cyan := color.New(color.FgCyan)

	fmt.Printf("Working copy : %s", describeCommit(wc))
	if names := bookmarksAt(view, wc.ID()); len(names) > 0 {
		cyan.Printf(" (%s)", strings.Join(names, ", "))
	}
	fmt.Println()
	parents, err := wc.ParentCommits(ctx)
	if err != nil {
		exitError("%v", err)
	}
	for _, p := range parents {
		fmt.Printf("Parent commit: %s", describeCommit(p))
		if names := bookmarksAt(view, p.ID()); len(names) > 0 {
			cyan.Printf(" (%s)", strings.Join(names, ", "))
		}
		fmt.Println()
	}

	if tree, ok := wc.TreeID().AsResolved(); ok && tree != c.WorkingCopy.TreeID() {
		color.New(color.FgYellow).Println("The files on disk do not match the working-copy commit; run a command that updates it.")
	}
	if c.WorkingCopy.OperationID() != c.Repo.Operation().ID() {
		color.New(color.FgHiBlack).Printf("Working copy last updated by operation %s\n", c.WorkingCopy.OperationID().Short())
	}

	parentTree, err := c.Repo.ParentTree(ctx, wc)
	if err != nil {
		exitError("%v", err)
	}
	changes, err := diffTrees(ctx, c.Repo.Store(), parentTree, wc.TreeID())
	if err != nil {
		exitError("failed to compute changes: %v", err)
	}
	if len(changes) == 0 {
		fmt.Println("The working copy has no changes.")
	} else {
		fmt.Println("Working copy changes:")
		printChanges(changes)
	}

	var conflicted []string
	for _, name := range sortedKeys(view.LocalBookmarks) {
		if view.LocalBookmarks[name].HasConflict() {
			conflicted = append(conflicted, name)
		}
	}
	if len(conflicted) > 0 {
		color.New(color.FgRed).Printf("Conflicted bookmarks: %s\n", strings.Join(conflicted, ", "))
		fmt.Println("  (use \"opvc bookmark set <name> -r <revision>\" to resolve)")
	}
}
