package cli

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete objects and operations that are no longer reachable",
	Long: `Delete commits, trees, files and operation records that cannot be
reached from any operation in the log. Objects written within the
--keep-newer window are kept even when unreachable, so
concurrent commands that have not published yet are not disturbed.`,
	Args: cobra.NoArgs,
	Run:  runGC,
}

var gcKeepNewer time.Duration

func init() {
	gcCmd.Flags().DurationVar(&gcKeepNewer, "keep-newer", 14*24*time.Hour, "Keep unreachable objects younger than this")
}

func runGC(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := initLoaderContext(ctx)
	defer c.Close()

	if err := c.Loader.GC(ctx, time.Now().Add(-gcKeepNewer)); err != nil {
		exitError("gc failed: %v", err)
	}
	color.Green("Garbage collection complete")
}
