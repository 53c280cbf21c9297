package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/opvc/internal/config"
	"github.com/kilupskalvis/opvc/internal/repo"
	"github.com/kilupskalvis/opvc/internal/workingcopy"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new opvc repository",
	Long: `Initialize a new opvc repository in the current directory.
This creates a .opvc directory holding the object store, the operation log
and the working-copy state.`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var (
	initBackend   string
	initUserName  string
	initUserEmail string
)

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", config.DefaultBackend, "Object store backend (local, sqlite)")
	initCmd.Flags().StringVar(&initUserName, "user-name", os.Getenv("OPVC_USER_NAME"), "Name recorded on new commits")
	initCmd.Flags().StringVar(&initUserEmail, "user-email", os.Getenv("OPVC_USER_EMAIL"), "Email recorded on new commits")
}

func runInit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	// Check if already initialized
	if _, err := config.FindRoot(); err == nil {
		exitError("opvc repository already exists")
	}
	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	cfg := config.Default()
	cfg.Backend = initBackend
	cfg.User = config.User{Name: initUserName, Email: initUserEmail}
	cfg, err = config.Initialize(cwd, cfg)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	r, err := repo.Init(ctx, cfg.RepoPath(), cfg.StoreTypes(), cfg.Settings(), logger)
	if err != nil {
		os.RemoveAll(cfg.Path())
		exitError("failed to initialize repository: %v", err)
	}
	defer r.Loader().Close()

	wcID := r.View().WCCommitIDs[repo.DefaultWorkspace]
	wc, err := r.Store().GetCommit(ctx, wcID)
	if err != nil {
		exitError("failed to load working-copy commit: %v", err)
	}
	tree, _ := wc.TreeID().AsResolved()
	if _, err := workingcopy.Init(r.Store(), cfg.WorkingCopyPath(), repo.DefaultWorkspace, r.Operation().ID(), tree, logger); err != nil {
		exitError("failed to initialize working copy: %v", err)
	}

	fmt.Printf("Initialized empty opvc repository in %s/\n", config.Dir)
	fmt.Printf("Working copy at %s\n", describeCommit(wc))
}
