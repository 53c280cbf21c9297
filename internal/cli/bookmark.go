package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/models"
)

var bookmarkCmd = &cobra.Command{
	Use:     "bookmark",
	Aliases: []string{"b"},
	Short:   "Manage bookmarks",
	Long: `List, create, move or delete bookmarks.

Examples:
  opvc bookmark list
  opvc bookmark set main -r @-
  opvc bookmark delete feature`,
}

var bookmarkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookmarks and their targets",
	Args:  cobra.NoArgs,
	Run:   runBookmarkList,
}

var bookmarkSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create a bookmark or move it to a revision",
	Args:  cobra.ExactArgs(1),
	Run:   runBookmarkSet,
}

var bookmarkDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a bookmark",
	Args:  cobra.ExactArgs(1),
	Run:   runBookmarkDelete,
}

var bookmarkRevision string

func init() {
	bookmarkSetCmd.Flags().StringVarP(&bookmarkRevision, "revision", "r", "@", "Revision the bookmark should point at")

	bookmarkCmd.AddCommand(bookmarkListCmd)
	bookmarkCmd.AddCommand(bookmarkSetCmd)
	bookmarkCmd.AddCommand(bookmarkDeleteCmd)
}

func runBookmarkList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	view := c.Repo.View()
	if len(view.LocalBookmarks) == 0 {
		fmt.Println("No bookmarks")
		return
	}
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for _, name := range sortedKeys(view.LocalBookmarks) {
		target := view.LocalBookmarks[name]
		if id, ok := target.AsNormal(); ok {
			commit, err := c.Repo.Store().GetCommit(ctx, id)
			if err != nil {
				exitError("failed to load commit %s: %v", id.Short(), err)
			}
			green.Printf("%s", name)
			fmt.Printf(": %s\n", describeCommit(commit))
			continue
		}
		red.Printf("%s (conflicted)", name)
		fmt.Println(":")
		for _, id := range target.RemovedIDs() {
			fmt.Printf("  - %s\n", id.Short())
		}
		for _, id := range target.AddedIDs() {
			fmt.Printf("  + %s\n", id.Short())
		}
	}
}

func runBookmarkSet(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	name := args[0]
	target, err := resolveRevision(ctx, c.Repo, c.WorkingCopy.WorkspaceID(), bookmarkRevision)
	if err != nil {
		exitError("%v", err)
	}

	tx := c.Repo.StartTransaction()
	tx.Repo().SetLocalBookmark(name, models.NormalRef(target.ID()))
	c.finish(ctx, tx, fmt.Sprintf("point bookmark %s to commit %s", name, target.ID().Hex()))
	color.Green("Bookmark %s now at %s", name, describeCommit(target))
}

func runBookmarkDelete(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	name := args[0]
	if c.Repo.View().LocalBookmark(name).IsAbsent() {
		exitError("no such bookmark: %s", name)
	}
	tx := c.Repo.StartTransaction()
	tx.Repo().SetLocalBookmark(name, models.AbsentRef())
	c.finish(ctx, tx, "delete bookmark "+name)
	color.Green("Deleted bookmark %s", name)
}
