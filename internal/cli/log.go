package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commit history",
	Long:  `Display the visible commits, newest first, starting from every head.`,
	Args:  cobra.NoArgs,
	Run:   runLog,
}

var (
	logOneline bool
	logLimit   int
)

func init() {
	logCmd.Flags().BoolVar(&logOneline, "oneline", false, "Show each commit on a single line")
	logCmd.Flags().IntVarP(&logLimit, "n", "n", 0, "Limit the number of commits to show")
}

func runLog(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initContext(ctx)
	defer c.Close()

	view := c.Repo.View()
	ids, err := c.Repo.Index().WalkRevs(ctx, view.Heads(), nil)
	if err != nil {
		exitError("failed to walk history: %v", err)
	}
	if logLimit > 0 && len(ids) > logLimit {
		ids = ids[:logLimit]
	}

	wcID := view.WCCommitIDs[c.WorkingCopy.WorkspaceID()]
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	magenta := color.New(color.FgMagenta)

	for _, id := range ids {
		commit, err := c.Repo.Store().GetCommit(ctx, id)
		if err != nil {
			exitError("failed to load commit %s: %v", id.Short(), err)
		}
		marker := ""
		if id == wcID {
			marker = "@ "
		}
		bookmarks := bookmarksAt(view, id)

		if logOneline {
			yellow.Printf("%s%s ", marker, id.Short())
			if len(bookmarks) > 0 {
				cyan.Printf("(%s) ", strings.Join(bookmarks, ", "))
			}
			if _, ok := commit.TreeID().AsResolved(); !ok {
				magenta.Print("[conflict] ")
			}
			fmt.Println(strings.TrimPrefix(describeCommit(commit), id.Short()+" "))
			continue
		}

		yellow.Printf("%scommit %s", marker, id)
		if len(bookmarks) > 0 {
			cyan.Printf(" (%s)", strings.Join(bookmarks, ", "))
		}
		if _, ok := commit.TreeID().AsResolved(); !ok {
			magenta.Print(" [conflict]")
		}
		fmt.Println()
		if commit.IsRoot() {
			fmt.Printf("\n    (root)\n\n")
			continue
		}
		fmt.Printf("Change: %s\n", commit.ChangeID().ReverseHex())
		author := commit.Author()
		fmt.Printf("Author: %s <%s>\n", author.Name, author.Email)
		fmt.Printf("Date:   %s\n", author.Timestamp.Time().Format("Mon Jan 2 15:04:05 2006"))
		desc := commit.Description()
		if desc == "" {
			desc = "(no description set)"
		}
		fmt.Printf("\n    %s\n\n", strings.ReplaceAll(strings.TrimRight(desc, "\n"), "\n", "\n    "))
	}
}
