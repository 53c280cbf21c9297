package repo

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilupskalvis/opvc/internal/merge"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

// RebaseDescendants moves every visible descendant of a rewritten or
// abandoned commit onto the replacement, then updates heads, bookmarks and
// working-copy commits. It returns the number of commits rebased.
func (m *MutableRepo) RebaseDescendants(ctx context.Context) (int, error) {
	if !m.HasRewrites() {
		return 0, nil
	}
	order, err := m.descendantsToRebase(ctx)
	if err != nil {
		return 0, err
	}

	rebased := 0
	for _, id := range order {
		if _, ok := m.rewritten[id]; ok {
			continue
		}
		if _, ok := m.abandoned[id]; ok {
			continue
		}
		ok, err := m.rebaseCommit(ctx, id)
		if err != nil {
			return rebased, fmt.Errorf("rebase %s: %w", id.Short(), err)
		}
		if ok {
			rebased++
		}
	}

	if err := m.updateRewrittenReferences(ctx); err != nil {
		return rebased, err
	}
	m.rewritten = make(map[models.CommitID][]models.CommitID)
	m.abandoned = make(map[models.CommitID]struct{})
	if err := m.enforceViewInvariants(ctx); err != nil {
		return rebased, err
	}
	m.base.loader.logger.Debug("rebased descendants", "count", rebased)
	return rebased, nil
}

// descendantsToRebase returns the visible commits that descend from a
// rewritten or abandoned commit, parents before children.
func (m *MutableRepo) descendantsToRebase(ctx context.Context) ([]models.CommitID, error) {
	ix := m.Index()
	roots := make(map[models.CommitID]struct{})
	minGen := -1
	addRoot := func(id models.CommitID) error {
		e, err := ix.entry(ctx, id)
		if err != nil {
			return err
		}
		roots[id] = struct{}{}
		if minGen < 0 || e.generation < minGen {
			minGen = e.generation
		}
		return nil
	}
	for id := range m.rewritten {
		if err := addRoot(id); err != nil {
			return nil, err
		}
	}
	for id := range m.abandoned {
		if err := addRoot(id); err != nil {
			return nil, err
		}
	}

	// Collect everything above the lowest root, starting at the heads and
	// the working-copy commits.
	gens := make(map[models.CommitID]int)
	var work []models.CommitID
	work = append(work, m.view.Heads()...)
	for _, id := range m.view.WCCommitIDs {
		work = append(work, id)
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := gens[id]; ok {
			continue
		}
		e, err := ix.entry(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.generation <= minGen {
			continue
		}
		gens[id] = e.generation
		work = append(work, e.parents...)
	}

	candidates := make([]models.CommitID, 0, len(gens))
	for id := range gens {
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if gens[candidates[i]] != gens[candidates[j]] {
			return gens[candidates[i]] < gens[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})

	reaches := make(map[models.CommitID]bool)
	var out []models.CommitID
	for _, id := range candidates {
		parents, err := ix.Parents(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if _, ok := roots[p]; ok || reaches[p] {
				reaches[id] = true
				break
			}
		}
		if reaches[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// newParents maps parent ids through the recorded rewrites. Abandoned
// parents are replaced by their own parents; divergent rewrites are left in
// place.
func (m *MutableRepo) newParents(ctx context.Context, old []models.CommitID) ([]models.CommitID, error) {
	var out []models.CommitID
	seen := make(map[models.CommitID]struct{})
	var visit func(id models.CommitID) error
	visit = func(id models.CommitID) error {
		if _, ok := m.abandoned[id]; ok {
			parents, err := m.Index().Parents(ctx, id)
			if err != nil {
				return err
			}
			for _, p := range parents {
				if err := visit(p); err != nil {
					return err
				}
			}
			return nil
		}
		if news := m.rewritten[id]; len(news) == 1 {
			return visit(news[0])
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
		return nil
	}
	for _, id := range old {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		out = []models.CommitID{m.Store().RootCommitID()}
	}
	return out, nil
}

func (m *MutableRepo) rebaseCommit(ctx context.Context, id models.CommitID) (bool, error) {
	c, err := m.Store().GetCommit(ctx, id)
	if err != nil {
		return false, err
	}
	parents, err := m.newParents(ctx, c.Parents())
	if err != nil {
		return false, err
	}
	if equalIDs(parents, c.Parents()) {
		return false, nil
	}
	oldBase, err := m.mergedParentTree(ctx, c.Parents())
	if err != nil {
		return false, err
	}
	newBase, err := m.mergedParentTree(ctx, parents)
	if err != nil {
		return false, err
	}
	tree, err := m.Store().MergeMergedTrees(ctx, oldBase, newBase, c.TreeID())
	if err != nil {
		return false, err
	}
	if _, err := m.RewriteCommit(c).SetParents(parents).SetTree(tree).Write(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// mergedParentTree merges the trees of parents pairwise against their
// closest common ancestor.
func (m *MutableRepo) mergedParentTree(ctx context.Context, parents []models.CommitID) (models.MergedTreeID, error) {
	return mergeParentTrees(ctx, m.Store(), m.Index(), parents)
}

// ParentTree returns the merged tree of commit's parents, the tree its
// changes are relative to.
func (r *ReadonlyRepo) ParentTree(ctx context.Context, commit *store.Commit) (models.MergedTreeID, error) {
	return mergeParentTrees(ctx, r.Store(), r.Index(), commit.Parents())
}

func mergeParentTrees(ctx context.Context, st *store.Store, ix *Index, parents []models.CommitID) (models.MergedTreeID, error) {
	if len(parents) == 0 {
		return models.ResolvedTree(st.EmptyTreeID()), nil
	}
	first, err := st.GetCommit(ctx, parents[0])
	if err != nil {
		return models.MergedTreeID{}, err
	}
	tree := first.TreeID()
	for i := 1; i < len(parents); i++ {
		other, err := st.GetCommit(ctx, parents[i])
		if err != nil {
			return models.MergedTreeID{}, err
		}
		ancestorID, err := ix.CommonAncestor(ctx, parents[:i], parents[i:i+1])
		if err != nil {
			return models.MergedTreeID{}, err
		}
		ancestor, err := st.GetCommit(ctx, ancestorID)
		if err != nil {
			return models.MergedTreeID{}, err
		}
		tree, err = st.MergeMergedTrees(ctx, ancestor.TreeID(), tree, other.TreeID())
		if err != nil {
			return models.MergedTreeID{}, err
		}
	}
	return tree, nil
}

func (m *MutableRepo) updateRewrittenReferences(ctx context.Context) error {
	olds := make([]models.CommitID, 0, len(m.rewritten))
	for id := range m.rewritten {
		olds = append(olds, id)
	}
	sort.Slice(olds, func(i, j int) bool { return olds[i] < olds[j] })
	for _, old := range olds {
		news, err := m.newParents(ctx, []models.CommitID{old})
		if err != nil {
			return err
		}
		if len(m.rewritten[old]) > 1 {
			news = append([]models.CommitID(nil), m.rewritten[old]...)
		}
		if err := m.moveReferences(ctx, old, news, false); err != nil {
			return err
		}
	}

	abandoned := sortedCommitIDs(m.abandoned)
	for _, old := range abandoned {
		parents, err := m.Index().Parents(ctx, old)
		if err != nil {
			return err
		}
		news, err := m.newParents(ctx, parents)
		if err != nil {
			return err
		}
		if err := m.moveReferences(ctx, old, news, true); err != nil {
			return err
		}
	}
	return nil
}

// moveReferences replaces old with news in the heads and the local
// bookmarks. Working-copy commits follow a rewrite; an abandoned
// working-copy commit is replaced by a new empty commit on news.
func (m *MutableRepo) moveReferences(ctx context.Context, old models.CommitID, news []models.CommitID, abandoned bool) error {
	if _, ok := m.view.HeadIDs[old]; ok {
		delete(m.view.HeadIDs, old)
		for _, id := range news {
			m.view.HeadIDs[id] = struct{}{}
		}
	}

	removes := make([]models.CommitID, len(news)-1)
	for i := range removes {
		removes[i] = old
	}
	oldTarget := models.NormalRef(old)
	newTarget := models.RefTargetFromMerge(merge.New(removes, news))
	for name, target := range m.view.LocalBookmarks {
		if !containsID(target.AddedIDs(), old) {
			continue
		}
		merged, err := mergeRefTargets(ctx, m.Index(), target, oldTarget, newTarget)
		if err != nil {
			return err
		}
		m.view.SetLocalBookmark(name, merged)
	}

	workspaces := make([]models.WorkspaceID, 0)
	for ws, id := range m.view.WCCommitIDs {
		if id == old {
			workspaces = append(workspaces, ws)
		}
	}
	sort.Slice(workspaces, func(i, j int) bool { return workspaces[i] < workspaces[j] })
	for _, ws := range workspaces {
		if !abandoned {
			m.view.WCCommitIDs[ws] = news[0]
			continue
		}
		tree, err := m.mergedParentTree(ctx, news)
		if err != nil {
			return err
		}
		wc, err := m.NewCommit(news, tree).Write(ctx)
		if err != nil {
			return err
		}
		m.view.WCCommitIDs[ws] = wc.ID()
	}
	return nil
}

func equalIDs(a, b []models.CommitID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsID(ids []models.CommitID, id models.CommitID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
