package repo

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

// MutableRepo is a private, editable copy of a repo's view. Rewrites and
// abandonments are recorded so RebaseDescendants can move their descendants.
type MutableRepo struct {
	base *ReadonlyRepo
	view *models.View

	rewritten map[models.CommitID][]models.CommitID
	abandoned map[models.CommitID]struct{}
}

func newMutableRepo(base *ReadonlyRepo, view *models.View) *MutableRepo {
	return &MutableRepo{
		base:      base,
		view:      view.Clone(),
		rewritten: make(map[models.CommitID][]models.CommitID),
		abandoned: make(map[models.CommitID]struct{}),
	}
}

// mutableState is a copy of everything a view merge may change.
type mutableState struct {
	view      *models.View
	rewritten map[models.CommitID][]models.CommitID
	abandoned map[models.CommitID]struct{}
}

func (m *MutableRepo) snapshot() mutableState {
	st := mutableState{
		view:      m.view.Clone(),
		rewritten: make(map[models.CommitID][]models.CommitID, len(m.rewritten)),
		abandoned: make(map[models.CommitID]struct{}, len(m.abandoned)),
	}
	for k, v := range m.rewritten {
		st.rewritten[k] = append([]models.CommitID(nil), v...)
	}
	for k := range m.abandoned {
		st.abandoned[k] = struct{}{}
	}
	return st
}

func (m *MutableRepo) restore(st mutableState) {
	m.view, m.rewritten, m.abandoned = st.view, st.rewritten, st.abandoned
}

func (m *MutableRepo) BaseRepo() *ReadonlyRepo { return m.base }
func (m *MutableRepo) Store() *store.Store     { return m.base.Store() }
func (m *MutableRepo) Index() *Index           { return m.base.Index() }

// View returns the current view. Callers must not modify it.
func (m *MutableRepo) View() *models.View { return m.view }

// HasChanges reports whether the view differs from the base repo's.
func (m *MutableRepo) HasChanges() bool { return !m.view.Equal(m.base.View()) }

// SetView replaces the whole view, then restores the head invariants.
func (m *MutableRepo) SetView(ctx context.Context, view *models.View) error {
	m.view = view.Clone()
	return m.enforceViewInvariants(ctx)
}

// enforceViewInvariants keeps the heads an antichain: no head is an ancestor
// of another, and the root commit is a head only when nothing else is.
func (m *MutableRepo) enforceViewInvariants(ctx context.Context) error {
	ids := make([]models.CommitID, 0, len(m.view.HeadIDs))
	for id := range m.view.HeadIDs {
		ids = append(ids, id)
	}
	heads, err := m.Index().Heads(ctx, ids)
	if err != nil {
		return err
	}
	m.view.HeadIDs = make(map[models.CommitID]struct{}, len(heads))
	for _, id := range heads {
		m.view.HeadIDs[id] = struct{}{}
	}
	if len(m.view.HeadIDs) == 0 {
		m.view.HeadIDs[m.Store().RootCommitID()] = struct{}{}
	}
	return nil
}

// AddHead makes id visible.
func (m *MutableRepo) AddHead(ctx context.Context, id models.CommitID) error {
	if _, err := m.Index().Parents(ctx, id); err != nil {
		return err
	}
	m.view.HeadIDs[id] = struct{}{}
	return m.enforceViewInvariants(ctx)
}

// RemoveHead hides id. Its parents do not become heads.
func (m *MutableRepo) RemoveHead(ctx context.Context, id models.CommitID) error {
	delete(m.view.HeadIDs, id)
	return m.enforceViewInvariants(ctx)
}

func (m *MutableRepo) LocalBookmark(name string) models.RefTarget {
	return m.view.LocalBookmark(name)
}

// SetLocalBookmark sets a bookmark. An absent target deletes it.
func (m *MutableRepo) SetLocalBookmark(name string, target models.RefTarget) {
	m.view.SetLocalBookmark(name, target)
}

func (m *MutableRepo) Tag(name string) models.RefTarget { return m.view.Tag(name) }

func (m *MutableRepo) SetTag(name string, target models.RefTarget) { m.view.SetTag(name, target) }

func (m *MutableRepo) RemoteBookmark(remote, name string) models.RemoteRef {
	return m.view.RemoteBookmark(remote, name)
}

func (m *MutableRepo) SetRemoteBookmark(remote, name string, ref models.RemoteRef) {
	m.view.SetRemoteBookmark(remote, name, ref)
}

// WorkingCopyCommitID returns the commit checked out in workspace.
func (m *MutableRepo) WorkingCopyCommitID(workspace models.WorkspaceID) (models.CommitID, bool) {
	id, ok := m.view.WCCommitIDs[workspace]
	return id, ok
}

// SetWorkingCopyCommit points workspace at id and makes id visible.
func (m *MutableRepo) SetWorkingCopyCommit(ctx context.Context, workspace models.WorkspaceID, id models.CommitID) error {
	m.view.WCCommitIDs[workspace] = id
	return m.AddHead(ctx, id)
}

// RemoveWorkspace forgets workspace's working-copy commit.
func (m *MutableRepo) RemoveWorkspace(workspace models.WorkspaceID) {
	delete(m.view.WCCommitIDs, workspace)
}

// CheckOut creates a new empty commit on top of commit and makes it the
// workspace's working-copy commit. The previous working-copy commit is
// abandoned if it is an undescribed, unchanged head.
func (m *MutableRepo) CheckOut(ctx context.Context, workspace models.WorkspaceID, commit *store.Commit) (*store.Commit, error) {
	if err := m.maybeAbandonWorkingCopy(ctx, workspace); err != nil {
		return nil, err
	}
	wc, err := m.NewCommit([]models.CommitID{commit.ID()}, commit.TreeID()).Write(ctx)
	if err != nil {
		return nil, fmt.Errorf("create working-copy commit: %w", err)
	}
	if err := m.SetWorkingCopyCommit(ctx, workspace, wc.ID()); err != nil {
		return nil, err
	}
	return wc, nil
}

// Edit makes commit itself the workspace's working-copy commit.
func (m *MutableRepo) Edit(ctx context.Context, workspace models.WorkspaceID, commit *store.Commit) error {
	if cur, ok := m.WorkingCopyCommitID(workspace); ok && cur == commit.ID() {
		return nil
	}
	if err := m.maybeAbandonWorkingCopy(ctx, workspace); err != nil {
		return err
	}
	return m.SetWorkingCopyCommit(ctx, workspace, commit.ID())
}

func (m *MutableRepo) maybeAbandonWorkingCopy(ctx context.Context, workspace models.WorkspaceID) error {
	id, ok := m.WorkingCopyCommitID(workspace)
	if !ok {
		return nil
	}
	if _, isHead := m.view.HeadIDs[id]; !isHead {
		return nil
	}
	for ws, other := range m.view.WCCommitIDs {
		if ws != workspace && other == id {
			return nil
		}
	}
	c, err := m.Store().GetCommit(ctx, id)
	if err != nil {
		return err
	}
	if c.IsRoot() || c.Description() != "" {
		return nil
	}
	empty, err := m.isEmpty(ctx, c)
	if err != nil || !empty {
		return err
	}
	m.RecordAbandonedCommit(id)
	return nil
}

// isEmpty reports whether c changes nothing relative to its parents.
func (m *MutableRepo) isEmpty(ctx context.Context, c *store.Commit) (bool, error) {
	parentTree, err := m.mergedParentTree(ctx, c.Parents())
	if err != nil {
		return false, err
	}
	return parentTree.Equal(c.TreeID()), nil
}

// RecordRewrittenCommit notes that oldID was replaced by newID.
func (m *MutableRepo) RecordRewrittenCommit(oldID, newID models.CommitID) {
	for _, id := range m.rewritten[oldID] {
		if id == newID {
			return
		}
	}
	m.rewritten[oldID] = append(m.rewritten[oldID], newID)
}

// RecordAbandonedCommit notes that id should disappear; its descendants move
// onto its parents.
func (m *MutableRepo) RecordAbandonedCommit(id models.CommitID) {
	m.abandoned[id] = struct{}{}
}

// HasRewrites reports whether any rewrite or abandonment awaits rebasing.
func (m *MutableRepo) HasRewrites() bool {
	return len(m.rewritten) > 0 || len(m.abandoned) > 0
}

// NewCommit starts a builder for a commit with a fresh change id.
func (m *MutableRepo) NewCommit(parents []models.CommitID, tree models.MergedTreeID) *CommitBuilder {
	return newCommitBuilder(m, parents, tree)
}

// RewriteCommit starts a builder that replaces commit, keeping its change id.
func (m *MutableRepo) RewriteCommit(commit *store.Commit) *CommitBuilder {
	return rewriteCommitBuilder(m, commit)
}
