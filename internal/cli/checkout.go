package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/models"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout <revision>",
	Short: "Start a new working-copy commit on top of a revision",
	Long: `Create an empty working-copy commit whose parent is the given revision
and update the files on disk to match it.

Examples:
  opvc checkout main          # Work on top of the main bookmark
  opvc checkout @-            # Work on top of the parent of the working copy
  opvc checkout -b feature @  # Also point a new bookmark at the revision`,
	Args: cobra.ExactArgs(1),
	Run:  runCheckout,
}

var checkoutBookmark string

func init() {
	checkoutCmd.Flags().StringVarP(&checkoutBookmark, "bookmark", "b", "", "Create a bookmark pointing at the revision")
}

func runCheckout(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	target, err := resolveRevision(ctx, c.Repo, c.WorkingCopy.WorkspaceID(), args[0])
	if err != nil {
		exitError("%v", err)
	}

	tx := c.Repo.StartTransaction()
	mut := tx.Repo()
	if checkoutBookmark != "" {
		if mut.LocalBookmark(checkoutBookmark).IsPresent() {
			exitError("bookmark %q already exists", checkoutBookmark)
		}
		mut.SetLocalBookmark(checkoutBookmark, models.NormalRef(target.ID()))
	}
	wc, err := mut.CheckOut(ctx, c.WorkingCopy.WorkspaceID(), target)
	if err != nil {
		exitError("checkout failed: %v", err)
	}
	c.finish(ctx, tx, "check out commit "+target.ID().Hex())

	color.Green("Working copy now at %s", describeCommit(wc))
	color.New(color.FgHiBlack).Printf("Parent commit: %s\n", describeCommit(target))
}
