package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show [revision]",
	Short: "Show commit details",
	Long:  `Show a commit's metadata and the paths it changes relative to its parents.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runShow,
}

func runShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	rev := "@"
	if len(args) == 1 {
		rev = args[0]
	}
	commit, err := resolveRevision(ctx, c.Repo, c.WorkingCopy.WorkspaceID(), rev)
	if err != nil {
		exitError("%v", err)
	}

	yellow := color.New(color.FgYellow)
	yellow.Printf("commit %s\n", commit.ID())
	if commit.IsRoot() {
		fmt.Println("\n    (root)")
		return
	}
	fmt.Printf("Change:  %s\n", commit.ChangeID().ReverseHex())
	parents := make([]string, 0, len(commit.Parents()))
	for _, id := range commit.Parents() {
		parents = append(parents, id.Short())
	}
	fmt.Printf("Parents: %s\n", strings.Join(parents, " "))
	if len(commit.Predecessors()) > 0 {
		preds := make([]string, 0, len(commit.Predecessors()))
		for _, id := range commit.Predecessors() {
			preds = append(preds, id.Short())
		}
		fmt.Printf("Rewrites: %s\n", strings.Join(preds, " "))
	}
	author := commit.Author()
	fmt.Printf("Author:  %s <%s> (%s)\n", author.Name, author.Email, author.Timestamp)
	if names := bookmarksAt(c.Repo.View(), commit.ID()); len(names) > 0 {
		color.New(color.FgCyan).Printf("Bookmarks: %s\n", strings.Join(names, ", "))
	}

	desc := commit.Description()
	if desc == "" {
		desc = "(no description set)"
	}
	fmt.Printf("\n    %s\n\n", strings.ReplaceAll(strings.TrimRight(desc, "\n"), "\n", "\n    "))

	parentTree, err := c.Repo.ParentTree(ctx, commit)
	if err != nil {
		exitError("%v", err)
	}
	changes, err := diffTrees(ctx, c.Repo.Store(), parentTree, commit.TreeID())
	if err != nil {
		exitError("failed to compute changes: %v", err)
	}
	printChanges(changes)
}
