// Package cli implements the command-line interface for opvc.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/config"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/repo"
	"github.com/kilupskalvis/opvc/internal/store"
	"github.com/kilupskalvis/opvc/internal/workingcopy"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config      *config.Config
	Loader      *repo.RepoLoader
	Repo        *repo.ReadonlyRepo
	WorkingCopy *workingcopy.LocalWorkingCopy
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Loader != nil {
		c.Loader.Close()
	}
}

// initLoaderContext opens the stores without loading an operation.
func initLoaderContext(ctx context.Context) *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}
	loader, err := repo.Load(ctx, cfg.RepoPath(), cfg.Settings(), logger)
	if err != nil {
		exitError("failed to open repository: %v", err)
	}
	return &cmdContext{Config: cfg, Loader: loader}
}

// initContext loads the repo at its head operation, merging concurrent
// operations if needed, and the working copy.
func initContext(ctx context.Context) *cmdContext {
	c := initLoaderContext(ctx)
	r, err := c.Loader.LoadAtHead(ctx)
	if err != nil {
		c.Close()
		exitError("failed to load repository: %v", err)
	}
	c.Repo = r

	wc, err := workingcopy.Load(c.Loader.Store(), c.Config.WorkingCopyPath(), logger)
	if err != nil {
		c.Close()
		exitError("failed to load working copy: %v", err)
	}
	c.WorkingCopy = wc
	return c
}

// wcCommit returns the workspace's working-copy commit.
func (c *cmdContext) wcCommit(ctx context.Context) *store.Commit {
	id, ok := c.Repo.View().WCCommitIDs[c.WorkingCopy.WorkspaceID()]
	if !ok {
		exitError("workspace %q has no working-copy commit", c.WorkingCopy.WorkspaceID())
	}
	commit, err := c.Repo.Store().GetCommit(ctx, id)
	if err != nil {
		exitError("failed to load working-copy commit: %v", err)
	}
	return commit
}

// finish rebases, commits and publishes tx, then checks out the new
// working-copy commit.
func (c *cmdContext) finish(ctx context.Context, tx *repo.Transaction, description string) {
	n, err := tx.Repo().RebaseDescendants(ctx)
	if err != nil {
		exitError("failed to rebase descendants: %v", err)
	}
	if n > 0 {
		fmt.Printf("Rebased %d descendant commits\n", n)
	}
	before, err := wcTree(ctx, c.Repo, c.WorkingCopy.WorkspaceID())
	if err != nil {
		exitError("failed to load working-copy commit: %v", err)
	}
	tx.SetTag("args", strings.Join(os.Args, " "))
	r, err := tx.Commit(ctx, description)
	if err != nil {
		exitError("failed to commit transaction: %v", err)
	}
	c.Repo = r
	c.updateWorkingCopy(ctx, before)
}

var errConflictedWC = errors.New("working-copy commit has conflicts")

// wcTree returns the resolved tree of the workspace's working-copy commit in
// r. It returns nil when the workspace has none or its tree is conflicted.
func wcTree(ctx context.Context, r *repo.ReadonlyRepo, ws models.WorkspaceID) (*models.TreeID, error) {
	id, ok := r.View().WCCommitIDs[ws]
	if !ok {
		return nil, nil
	}
	commit, err := r.Store().GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	tree, ok := commit.TreeID().AsResolved()
	if !ok {
		return nil, nil
	}
	return &tree, nil
}

// checkOutWC moves wc to the working-copy commit recorded in r. expectedOld
// is the tree of the working-copy commit in the repo the command started
// from; the checkout fails if the files no longer match it.
func checkOutWC(ctx context.Context, wc workingcopy.WorkingCopy, r *repo.ReadonlyRepo, expectedOld *models.TreeID) (*store.Commit, *workingcopy.CheckoutStats, error) {
	id, ok := r.View().WCCommitIDs[wc.WorkspaceID()]
	if !ok {
		return nil, nil, nil
	}
	commit, err := r.Store().GetCommit(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load working-copy commit: %w", err)
	}
	if _, ok := commit.TreeID().AsResolved(); !ok {
		return commit, nil, errConflictedWC
	}
	stats, err := wc.CheckOut(ctx, r.Operation().ID(), expectedOld, commit)
	if err != nil {
		return commit, nil, err
	}
	return commit, stats, nil
}

func (c *cmdContext) updateWorkingCopy(ctx context.Context, expectedOld *models.TreeID) {
	commit, stats, err := checkOutWC(ctx, c.WorkingCopy, c.Repo, expectedOld)
	switch {
	case errors.Is(err, errConflictedWC):
		color.New(color.FgYellow).Printf("Working-copy commit %s has conflicts; leaving files as they are\n", commit.ID().Short())
		return
	case errors.Is(err, workingcopy.ErrConcurrentCheckout):
		exitError("the working copy was updated by another process; run 'opvc status' and retry")
	case err != nil:
		exitError("failed to update working copy: %v", err)
	case commit == nil:
		return
	}
	if stats.AddedFiles+stats.UpdatedFiles+stats.RemovedFiles > 0 {
		fmt.Printf("Working copy now at %s (added %d, modified %d, removed %d files)\n",
			commit.ID().Short(), stats.AddedFiles, stats.UpdatedFiles, stats.RemovedFiles)
	}
}

var (
	logLevel    string
	logFormat   string
	metricsFile string
	logger      = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "opvc",
	Short: "Operation-log version control",
	Long: `opvc is a version control tool in which every change to the repository
is recorded as an operation. Concurrent commands never corrupt the repository:
their operations are merged the next time it is loaded.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = newLogger(logLevel, logFormat, os.Stderr)
		slog.SetDefault(logger)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if metricsFile == "" {
			return
		}
		if err := writeMetrics(metricsFile, prometheus.DefaultGatherer); err != nil {
			exitError("%v", err)
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("OPVC_LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOrDefault("OPVC_LOG_FORMAT", "text"), "Log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", os.Getenv("OPVC_METRICS_FILE"), "Write store, op-head and repo counters to this file on exit")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(opCmd)
	rootCmd.AddCommand(bookmarkCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(gcCmd)
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: l}
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// describeCommit formats a commit as "<short id> <first description line>".
func describeCommit(c *store.Commit) string {
	desc := firstLine(c.Description())
	if desc == "" {
		desc = "(no description set)"
	}
	if c.IsRoot() {
		desc = "(root)"
	}
	return c.ID().Short() + " " + desc
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// bookmarksAt lists the local bookmarks whose target includes id.
func bookmarksAt(view *models.View, id models.CommitID) []string {
	var out []string
	for _, name := range sortedKeys(view.LocalBookmarks) {
		for _, added := range view.LocalBookmarks[name].AddedIDs() {
			if added == id {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
