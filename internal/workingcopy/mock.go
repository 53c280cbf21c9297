package workingcopy

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

// MockWorkingCopy is an in-memory WorkingCopy for tests.
type MockWorkingCopy struct {
	Workspace models.WorkspaceID
	Operation models.OperationID
	Tree      models.TreeID
	// Err can be set to make methods return an error
	Err error
	// CheckOuts counts successful checkouts.
	CheckOuts int
}

func (m *MockWorkingCopy) WorkspaceID() models.WorkspaceID { return m.Workspace }
func (m *MockWorkingCopy) OperationID() models.OperationID { return m.Operation }
func (m *MockWorkingCopy) TreeID() models.TreeID           { return m.Tree }

func (m *MockWorkingCopy) CheckOut(_ context.Context, opID models.OperationID, expectedOld *models.TreeID, commit *store.Commit) (*CheckoutStats, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if expectedOld != nil && *expectedOld != m.Tree {
		return nil, ErrConcurrentCheckout
	}
	tree, ok := commit.TreeID().AsResolved()
	if !ok {
		return nil, fmt.Errorf("check out %s: commit has a conflicted root tree", commit.ID().Short())
	}
	m.Operation, m.Tree = opID, tree
	m.CheckOuts++
	return &CheckoutStats{}, nil
}

func (m *MockWorkingCopy) Snapshot(context.Context) (models.TreeID, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Tree, nil
}
