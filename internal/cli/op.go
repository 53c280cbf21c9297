package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/repo"
)

var opCmd = &cobra.Command{
	Use:   "op",
	Short: "Inspect and rewind the operation log",
}

var opLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the operation log",
	Args:  cobra.NoArgs,
	Run:   runOpLog,
}

var opHeadsCmd = &cobra.Command{
	Use:   "heads",
	Short: "List the current operation heads without merging them",
	Args:  cobra.NoArgs,
	Run:   runOpHeads,
}

var opShowCmd = &cobra.Command{
	Use:   "show <operation>",
	Short: "Show an operation and the view it produced",
	Args:  cobra.ExactArgs(1),
	Run:   runOpShow,
}

var opUndoCmd = &cobra.Command{
	Use:   "undo [operation]",
	Short: "Undo an operation",
	Long: `Create a new operation that reverts the effect of the given operation
(the current one by default). Later operations are kept.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runOpUndo,
}

var opRestoreCmd = &cobra.Command{
	Use:   "restore <operation>",
	Short: "Restore the repository to the view of an earlier operation",
	Args:  cobra.ExactArgs(1),
	Run:   runOpRestore,
}

var opLogLimit int

func init() {
	opLogCmd.Flags().IntVarP(&opLogLimit, "n", "n", 0, "Limit the number of operations to show")

	opCmd.AddCommand(opLogCmd)
	opCmd.AddCommand(opHeadsCmd)
	opCmd.AddCommand(opShowCmd)
	opCmd.AddCommand(opUndoCmd)
	opCmd.AddCommand(opRestoreCmd)
}

func runOpLog(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	ops, err := operationHistory(ctx, c.Loader, c.Repo.Operation())
	if err != nil {
		exitError("failed to read operation log: %v", err)
	}
	if opLogLimit > 0 && len(ops) > opLogLimit {
		ops = ops[:opLogLimit]
	}

	current := c.Repo.Operation().ID()
	for _, op := range ops {
		printOperation(op, op.ID() == current)
	}
}

// operationHistory returns head and all of its ancestors, newest first.
func operationHistory(ctx context.Context, loader *repo.RepoLoader, head *repo.Operation) ([]*repo.Operation, error) {
	seen := map[models.OperationID]bool{head.ID(): true}
	queue := []*repo.Operation{head}
	var out []*repo.Operation
	for len(queue) > 0 {
		op := queue[0]
		queue = queue[1:]
		out = append(out, op)
		for _, id := range op.Parents() {
			if seen[id] {
				continue
			}
			seen[id] = true
			parent, err := loader.ReadOperation(ctx, id)
			if err != nil {
				return nil, err
			}
			queue = append(queue, parent)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[j].Metadata().EndTime.Before(out[i].Metadata().EndTime)
	})
	return out, nil
}

func printOperation(op *repo.Operation, current bool) {
	meta := op.Metadata()
	marker := "  "
	if current {
		marker = "@ "
	}
	yellow := color.New(color.FgYellow)
	yellow.Printf("%s%s", marker, op.ID().Short())
	if len(op.Parents()) == 0 {
		fmt.Println(" root()")
		return
	}
	fmt.Printf(" %s@%s %s\n", meta.Username, meta.Hostname, meta.EndTime)
	fmt.Printf("    %s\n", meta.Description)
	if args := meta.Tags["args"]; args != "" {
		color.New(color.FgHiBlack).Printf("    args: %s\n", args)
	}
}

func runOpHeads(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initLoaderContext(ctx)
	defer c.Close()

	ids, err := c.Loader.OpHeadsStore().GetOpHeads(ctx)
	if err != nil {
		exitError("failed to read operation heads: %v", err)
	}
	for _, id := range ids {
		op, err := c.Loader.ReadOperation(ctx, id)
		if err != nil {
			exitError("%v", err)
		}
		printOperation(op, false)
	}
	if len(ids) > 1 {
		color.New(color.FgYellow).Printf("%d concurrent operations; the next command will merge them\n", len(ids))
	}
}

func runOpShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initLoaderContext(ctx)
	defer c.Close()

	op, err := c.Loader.ResolveOperation(ctx, args[0])
	if err != nil {
		exitError("operation %q: %v", args[0], err)
	}
	printOperation(op, false)

	parents := make([]string, 0, len(op.Parents()))
	for _, id := range op.Parents() {
		parents = append(parents, id.Short())
	}
	fmt.Printf("\nParents: %s\n", strings.Join(parents, ", "))

	view, err := c.Loader.ReadView(ctx, op)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Println("Heads:")
	for _, id := range view.Heads() {
		fmt.Printf("  %s\n", id.Short())
	}
	if len(view.WCCommitIDs) > 0 {
		fmt.Println("Working copies:")
		for _, ws := range sortedKeys(view.WCCommitIDs) {
			fmt.Printf("  %s: %s\n", ws, view.WCCommitIDs[ws].Short())
		}
	}
	if len(view.LocalBookmarks) > 0 {
		fmt.Println("Bookmarks:")
		for _, name := range sortedKeys(view.LocalBookmarks) {
			fmt.Printf("  %s: %s\n", name, view.LocalBookmarks[name])
		}
	}
	if len(view.Tags) > 0 {
		fmt.Println("Tags:")
		for _, name := range sortedKeys(view.Tags) {
			fmt.Printf("  %s: %s\n", name, view.Tags[name])
		}
	}
}

func runOpUndo(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	target := "@"
	if len(args) == 1 {
		target = args[0]
	}
	op, err := c.Loader.ResolveOperation(ctx, target)
	if err != nil {
		exitError("operation %q: %v", target, err)
	}

	tx := c.Repo.StartTransaction()
	if err := tx.UndoOperation(ctx, op); err != nil {
		exitError("cannot undo operation %s: %v", op.ID().Short(), err)
	}
	c.finish(ctx, tx, "undo operation "+op.ID().Hex())
	color.Green("Undid operation %s", op.ID().Short())
}

func runOpRestore(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	op, err := c.Loader.ResolveOperation(ctx, args[0])
	if err != nil {
		exitError("operation %q: %v", args[0], err)
	}
	view, err := c.Loader.ReadView(ctx, op)
	if err != nil {
		exitError("%v", err)
	}

	tx := c.Repo.StartTransaction()
	if err := tx.RestoreView(ctx, view); err != nil {
		exitError("cannot restore operation %s: %v", op.ID().Short(), err)
	}
	c.finish(ctx, tx, "restore to operation "+op.ID().Hex())
	color.Green("Restored to operation %s", op.ID().Short())
}
