// Package workingcopy records which operation and tree a workspace's files
// were last checked out from, and refuses checkouts based on stale state.
package workingcopy

import (
	"context"
	"errors"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

// ErrConcurrentCheckout means another process changed the working copy since
// the caller last observed it. Callers must not retry blindly.
var ErrConcurrentCheckout = errors.New("concurrent checkout")

// CheckoutStats counts the file-level changes a checkout applied.
type CheckoutStats struct {
	AddedFiles   int
	UpdatedFiles int
	RemovedFiles int
}

// WorkingCopy is the contract the repo layer consumes.
type WorkingCopy interface {
	WorkspaceID() models.WorkspaceID
	// OperationID is the operation the last checkout was made against.
	OperationID() models.OperationID
	TreeID() models.TreeID
	// CheckOut fails with ErrConcurrentCheckout when the recorded state no
	// longer matches what this handle observed, or when expectedOld is set
	// and differs from the recorded tree.
	CheckOut(ctx context.Context, opID models.OperationID, expectedOld *models.TreeID, commit *store.Commit) (*CheckoutStats, error)
	// Snapshot re-reads the recorded state and returns its tree.
	Snapshot(ctx context.Context) (models.TreeID, error)
}

var (
	_ WorkingCopy = (*LocalWorkingCopy)(nil)
	_ WorkingCopy = (*MockWorkingCopy)(nil)
)
