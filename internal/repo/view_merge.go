package repo

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilupskalvis/opvc/internal/models"
)

// merge applies the changes other made relative to base onto this repo's
// view. Refs that both sides moved differently become conflicts. Commits
// that disappeared on either side are recorded as rewritten (when a commit
// with the same change id appeared) or abandoned, so RebaseDescendants can
// move whatever the other side built on them.
func (m *MutableRepo) merge(ctx context.Context, base, other *models.View) error {
	m.mergeWorkspaces(base, other)
	if err := m.mergeHeads(ctx, base, other); err != nil {
		return fmt.Errorf("merge heads: %w", err)
	}
	if err := m.mergeRefMap(ctx, base.LocalBookmarks, other.LocalBookmarks, m.view.LocalBookmarks); err != nil {
		return fmt.Errorf("merge bookmarks: %w", err)
	}
	if err := m.mergeRefMap(ctx, base.Tags, other.Tags, m.view.Tags); err != nil {
		return fmt.Errorf("merge tags: %w", err)
	}
	if err := m.mergeRemoteBookmarks(ctx, base, other); err != nil {
		return fmt.Errorf("merge remote bookmarks: %w", err)
	}
	return m.enforceViewInvariants(ctx)
}

func (m *MutableRepo) mergeWorkspaces(base, other *models.View) {
	for ws, baseID := range base.WCCommitIDs {
		ownID, ownOK := m.view.WCCommitIDs[ws]
		otherID, otherOK := other.WCCommitIDs[ws]
		switch {
		case otherOK && (otherID == baseID || (ownOK && otherID == ownID)):
		case otherOK:
			if ownOK && ownID == baseID {
				m.view.WCCommitIDs[ws] = otherID
			}
		default:
			// Removed on the other side wins even over a local change.
			delete(m.view.WCCommitIDs, ws)
		}
	}
	for ws, otherID := range other.WCCommitIDs {
		if _, ok := base.WCCommitIDs[ws]; ok {
			continue
		}
		if _, ok := m.view.WCCommitIDs[ws]; !ok {
			m.view.WCCommitIDs[ws] = otherID
		}
	}
}

func (m *MutableRepo) mergeHeads(ctx context.Context, base, other *models.View) error {
	baseHeads := base.Heads()
	ownHeads := m.view.Heads()
	otherHeads := other.Heads()
	if err := m.recordRewrites(ctx, baseHeads, ownHeads); err != nil {
		return err
	}
	if err := m.recordRewrites(ctx, baseHeads, otherHeads); err != nil {
		return err
	}
	for id := range base.HeadIDs {
		if _, ok := other.HeadIDs[id]; !ok {
			delete(m.view.HeadIDs, id)
		}
	}
	for id := range other.HeadIDs {
		if _, ok := base.HeadIDs[id]; !ok {
			m.view.HeadIDs[id] = struct{}{}
		}
	}
	return nil
}

// recordRewrites compares the commits that became hidden going from
// oldHeads to newHeads with those that became visible. A hidden commit whose
// change id reappears was rewritten; otherwise it was abandoned.
func (m *MutableRepo) recordRewrites(ctx context.Context, oldHeads, newHeads []models.CommitID) error {
	ix := m.Index()
	removed, err := ix.WalkRevs(ctx, oldHeads, newHeads)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	removedByChange := make(map[models.ChangeID][]models.CommitID)
	for _, id := range removed {
		change, err := ix.ChangeID(ctx, id)
		if err != nil {
			return err
		}
		removedByChange[change] = append(removedByChange[change], id)
	}

	added, err := ix.WalkRevs(ctx, newHeads, oldHeads)
	if err != nil {
		return err
	}
	rewrittenChanges := make(map[models.ChangeID]struct{})
	rewrites := make(map[models.CommitID][]models.CommitID)
	for _, id := range added {
		change, err := ix.ChangeID(ctx, id)
		if err != nil {
			return err
		}
		for _, old := range removedByChange[change] {
			rewrites[old] = append(rewrites[old], id)
		}
		rewrittenChanges[change] = struct{}{}
	}

	olds := make([]models.CommitID, 0, len(rewrites))
	for old := range rewrites {
		olds = append(olds, old)
	}
	sort.Slice(olds, func(i, j int) bool { return olds[i] < olds[j] })
	for _, old := range olds {
		for _, id := range rewrites[old] {
			m.RecordRewrittenCommit(old, id)
		}
	}
	for change, ids := range removedByChange {
		if _, ok := rewrittenChanges[change]; ok {
			continue
		}
		for _, id := range ids {
			m.RecordAbandonedCommit(id)
		}
	}
	return nil
}

func (m *MutableRepo) mergeRefMap(ctx context.Context, base, other map[string]models.RefTarget, own map[string]models.RefTarget) error {
	for _, name := range refNames(base, other, own) {
		merged, err := mergeRefTargets(ctx, m.Index(), own[name], base[name], other[name])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if merged.IsAbsent() {
			delete(own, name)
		} else {
			own[name] = merged
		}
	}
	return nil
}

func (m *MutableRepo) mergeRemoteBookmarks(ctx context.Context, base, other *models.View) error {
	type key struct{ remote, name string }
	keys := make(map[key]struct{})
	for _, v := range []*models.View{base, other, m.view} {
		for remote, rv := range v.RemoteViews {
			for name := range rv.Bookmarks {
				keys[key{remote, name}] = struct{}{}
			}
		}
	}
	sorted := make([]key, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].remote != sorted[j].remote {
			return sorted[i].remote < sorted[j].remote
		}
		return sorted[i].name < sorted[j].name
	})
	for _, k := range sorted {
		merged, err := mergeRemoteRefs(ctx, m.Index(),
			m.view.RemoteBookmark(k.remote, k.name),
			base.RemoteBookmark(k.remote, k.name),
			other.RemoteBookmark(k.remote, k.name),
		)
		if err != nil {
			return fmt.Errorf("%s@%s: %w", k.name, k.remote, err)
		}
		m.view.SetRemoteBookmark(k.remote, k.name, merged)
	}
	return nil
}

func refNames(maps ...map[string]models.RefTarget) []string {
	set := make(map[string]struct{})
	for _, m := range maps {
		for name := range m {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
