package workingcopy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/opvc/internal/lock"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

const (
	stateFileName = "checkout"
	lockFileName  = "working_copy.lock"
)

type checkoutState struct {
	WorkspaceID string `toml:"workspace_id"`
	OperationID string `toml:"operation_id"`
	TreeID      string `toml:"tree_id"`
}

// LocalWorkingCopy keeps its recorded state in dir/checkout. Materializing
// files on disk is left to the caller.
type LocalWorkingCopy struct {
	store  *store.Store
	dir    string
	logger *slog.Logger

	workspaceID models.WorkspaceID
	operationID models.OperationID
	treeID      models.TreeID
}

// Init creates the state directory and records the initial checkout.
func Init(st *store.Store, dir string, workspaceID models.WorkspaceID, opID models.OperationID, treeID models.TreeID, logger *slog.Logger) (*LocalWorkingCopy, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working copy dir: %w", err)
	}
	wc := newLocal(st, dir, logger)
	wc.workspaceID, wc.operationID, wc.treeID = workspaceID, opID, treeID
	if err := wc.save(); err != nil {
		return nil, err
	}
	return wc, nil
}

// Load reads the recorded state from dir.
func Load(st *store.Store, dir string, logger *slog.Logger) (*LocalWorkingCopy, error) {
	wc := newLocal(st, dir, logger)
	state, err := wc.read()
	if err != nil {
		return nil, err
	}
	if err := wc.apply(state); err != nil {
		return nil, err
	}
	return wc, nil
}

func newLocal(st *store.Store, dir string, logger *slog.Logger) *LocalWorkingCopy {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalWorkingCopy{store: st, dir: dir, logger: logger}
}

func (w *LocalWorkingCopy) WorkspaceID() models.WorkspaceID { return w.workspaceID }
func (w *LocalWorkingCopy) OperationID() models.OperationID { return w.operationID }
func (w *LocalWorkingCopy) TreeID() models.TreeID           { return w.treeID }

func (w *LocalWorkingCopy) CheckOut(ctx context.Context, opID models.OperationID, expectedOld *models.TreeID, commit *store.Commit) (*CheckoutStats, error) {
	newTree, ok := commit.TreeID().AsResolved()
	if !ok {
		return nil, fmt.Errorf("check out %s: commit has a conflicted root tree", commit.ID().Short())
	}

	l, err := lock.Acquire(ctx, filepath.Join(w.dir, lockFileName), nil)
	if err != nil {
		return nil, fmt.Errorf("lock working copy: %w", err)
	}
	defer l.Unlock()

	onDisk, err := w.read()
	if err != nil {
		return nil, err
	}
	if onDisk.OperationID != w.operationID.Hex() || onDisk.TreeID != w.treeID.Hex() {
		w.logger.Warn("working copy changed by another process",
			"workspace", w.workspaceID, "op", onDisk.OperationID)
		return nil, ErrConcurrentCheckout
	}
	if expectedOld != nil && *expectedOld != w.treeID {
		return nil, ErrConcurrentCheckout
	}

	stats, err := w.diff(ctx, w.treeID, newTree)
	if err != nil {
		return nil, err
	}
	oldOp, oldTree := w.operationID, w.treeID
	w.operationID, w.treeID = opID, newTree
	if err := w.save(); err != nil {
		w.operationID, w.treeID = oldOp, oldTree
		return nil, err
	}
	return stats, nil
}

// Snapshot reports the recorded tree after re-reading the state file.
func (w *LocalWorkingCopy) Snapshot(_ context.Context) (models.TreeID, error) {
	state, err := w.read()
	if err != nil {
		return "", err
	}
	if err := w.apply(state); err != nil {
		return "", err
	}
	return w.treeID, nil
}

func (w *LocalWorkingCopy) diff(ctx context.Context, from, to models.TreeID) (*CheckoutStats, error) {
	before, err := w.entries(ctx, from)
	if err != nil {
		return nil, err
	}
	after, err := w.entries(ctx, to)
	if err != nil {
		return nil, err
	}
	stats := &CheckoutStats{}
	for path, v := range after {
		old, ok := before[path]
		switch {
		case !ok:
			stats.AddedFiles++
		case old != v:
			stats.UpdatedFiles++
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			stats.RemovedFiles++
		}
	}
	return stats, nil
}

func (w *LocalWorkingCopy) entries(ctx context.Context, id models.TreeID) (map[models.RepoPath]models.TreeValue, error) {
	tree, err := w.store.GetTree(ctx, models.RootPath, id)
	if err != nil {
		return nil, err
	}
	return tree.Entries(ctx)
}

func (w *LocalWorkingCopy) read() (*checkoutState, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, stateFileName))
	if err != nil {
		return nil, fmt.Errorf("read working copy state: %w", err)
	}
	var state checkoutState
	if err := toml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse working copy state: %w", err)
	}
	return &state, nil
}

func (w *LocalWorkingCopy) apply(state *checkoutState) error {
	opID, err := models.OperationIDFromHex(state.OperationID)
	if err != nil {
		return err
	}
	treeID, err := models.TreeIDFromHex(state.TreeID)
	if err != nil {
		return err
	}
	w.workspaceID = models.WorkspaceID(state.WorkspaceID)
	w.operationID, w.treeID = opID, treeID
	return nil
}

func (w *LocalWorkingCopy) save() error {
	data, err := toml.Marshal(checkoutState{
		WorkspaceID: string(w.workspaceID),
		OperationID: w.operationID.Hex(),
		TreeID:      w.treeID.Hex(),
	})
	if err != nil {
		return fmt.Errorf("encode working copy state: %w", err)
	}
	tmp, err := os.CreateTemp(w.dir, ".checkout-*")
	if err != nil {
		return fmt.Errorf("write working copy state: %w", err)
	}
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write working copy state: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(w.dir, stateFileName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write working copy state: %w", err)
	}
	return nil
}
