package repo

import (
	"context"

	"github.com/kilupskalvis/opvc/internal/merge"
	"github.com/kilupskalvis/opvc/internal/models"
)

// mergeRefTargets three-way merges a ref. Trivial merges resolve directly;
// otherwise the terms are flattened and simplified, and remove/add pairs that
// amount to a fast-forward are dropped.
func mergeRefTargets(ctx context.Context, ix *Index, left, base, right models.RefTarget) (models.RefTarget, error) {
	switch {
	case left.Equal(base):
		return right, nil
	case right.Equal(base), left.Equal(right):
		return left, nil
	}
	nested := merge.New(
		[]merge.Merge[models.CommitID]{base.Merge()},
		[]merge.Merge[models.CommitID]{left.Merge(), right.Merge()},
	)
	terms := merge.Simplify(merge.Flatten(nested))
	if terms.IsResolved() {
		return models.RefTargetFromMerge(terms), nil
	}
	terms, err := removeFastForwards(ctx, ix, terms)
	if err != nil {
		return models.RefTarget{}, err
	}
	return models.RefTargetFromMerge(terms), nil
}

func removeFastForwards(ctx context.Context, ix *Index, m merge.Merge[models.CommitID]) (merge.Merge[models.CommitID], error) {
	removes := append([]models.CommitID(nil), m.Removes()...)
	adds := append([]models.CommitID(nil), m.Adds()...)
	for {
		ri, ai, ok, err := findPairToRemove(ctx, ix, removes, adds)
		if err != nil {
			return merge.Merge[models.CommitID]{}, err
		}
		if !ok {
			break
		}
		removes = append(removes[:ri], removes[ri+1:]...)
		adds = append(adds[:ai], adds[ai+1:]...)
	}
	return merge.New(removes, adds), nil
}

// findPairToRemove looks for two adds where one is an ancestor of the other
// and a remove that is an ancestor of the older one; dropping that remove and
// the older add keeps the descendant. An absent remove counts as a root.
func findPairToRemove(ctx context.Context, ix *Index, removes, adds []models.CommitID) (int, int, bool, error) {
	for i1, add1 := range adds {
		for i2 := i1 + 1; i2 < len(adds); i2++ {
			add2 := adds[i2]
			if add1 == "" || add2 == "" {
				continue
			}
			var (
				addIndex int
				addID    models.CommitID
			)
			switch {
			case add1 == add2:
				addIndex, addID = i1, add1
			default:
				older, err := ix.IsAncestor(ctx, add1, add2)
				if err != nil {
					return 0, 0, false, err
				}
				if older {
					addIndex, addID = i1, add1
					break
				}
				older, err = ix.IsAncestor(ctx, add2, add1)
				if err != nil {
					return 0, 0, false, err
				}
				if !older {
					continue
				}
				addIndex, addID = i2, add2
			}
			for ri, remove := range removes {
				if remove == "" {
					return ri, addIndex, true, nil
				}
				ok, err := ix.IsAncestor(ctx, remove, addID)
				if err != nil {
					return 0, 0, false, err
				}
				if ok {
					return ri, addIndex, true, nil
				}
			}
		}
	}
	return 0, 0, false, nil
}

// mergeRemoteRefs merges the target like a local ref. The tracking state
// follows the side that changed it.
func mergeRemoteRefs(ctx context.Context, ix *Index, left, base, right models.RemoteRef) (models.RemoteRef, error) {
	target, err := mergeRefTargets(ctx, ix, left.Target, base.Target, right.Target)
	if err != nil {
		return models.RemoteRef{}, err
	}
	state := left.State
	if right.State != base.State {
		state = right.State
	}
	if target.IsAbsent() {
		state = models.RemoteRefNew
	}
	return models.RemoteRef{Target: target, State: state}, nil
}
