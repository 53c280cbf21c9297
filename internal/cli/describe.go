package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe [revision]",
	Short: "Set the description of a commit",
	Args:  cobra.MaximumNArgs(1),
	Run:   runDescribe,
}

var describeMessage string

func init() {
	describeCmd.Flags().StringVarP(&describeMessage, "message", "m", "", "New description")
	describeCmd.MarkFlagRequired("message")
}

func runDescribe(cmd *cobra.Command, args []string) {
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
	if commit.IsRoot() {
		exitError("cannot rewrite the root commit")
	}
	if commit.Description() == describeMessage {
		color.Yellow("Nothing changed.")
		return
	}

	tx := c.Repo.StartTransaction()
	rewritten, err := tx.Repo().RewriteCommit(commit).SetDescription(describeMessage).Write(ctx)
	if err != nil {
		exitError("failed to rewrite commit: %v", err)
	}
	c.finish(ctx, tx, "describe commit "+commit.ID().Hex())
	color.Green("Described %s", describeCommit(rewritten))
}
