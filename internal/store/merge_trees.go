package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilupskalvis/opvc/internal/merge"
	"github.com/kilupskalvis/opvc/internal/models"
)

// MergeTrees three-way merges two root trees against base. Entries that do
// not resolve are written as Conflict objects.
func (s *Store) MergeTrees(ctx context.Context, base, side1, side2 models.TreeID) (models.TreeID, error) {
	return s.mergeTrees(ctx, models.RootPath, base, side1, side2)
}

// MergeMergedTrees merges root tree ids that may already be conflicted.
// Resolved inputs are merged entry by entry; otherwise the result is a
// root-level merge of all their terms.
func (s *Store) MergeMergedTrees(ctx context.Context, base, side1, side2 models.MergedTreeID) (models.MergedTreeID, error) {
	b, bok := base.AsResolved()
	s1, ok1 := side1.AsResolved()
	s2, ok2 := side2.AsResolved()
	if bok && ok1 && ok2 {
		id, err := s.MergeTrees(ctx, b, s1, s2)
		if err != nil {
			return models.MergedTreeID{}, err
		}
		return models.ResolvedTree(id), nil
	}
	nested := merge.New(
		[]merge.Merge[models.TreeID]{base.Trees()},
		[]merge.Merge[models.TreeID]{side1.Trees(), side2.Trees()},
	)
	return models.MergedTree(merge.Flatten(nested)), nil
}

func (s *Store) mergeTrees(ctx context.Context, dir models.RepoPath, base, side1, side2 models.TreeID) (models.TreeID, error) {
	if base == side1 || side1 == side2 {
		return side2, nil
	}
	if base == side2 {
		return side1, nil
	}

	trees := make([]*models.Tree, 3)
	for i, id := range []models.TreeID{base, side1, side2} {
		t, err := s.GetTree(ctx, dir, id)
		if err != nil {
			return "", err
		}
		trees[i] = t.Data()
	}

	names := make(map[string]struct{})
	for _, t := range trees {
		for name := range t.Entries {
			names[name] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	out := models.NewTree()
	for _, name := range sorted {
		v, err := s.mergeValue(ctx, dir.Join(name), trees[0].Value(name), trees[1].Value(name), trees[2].Value(name))
		if err != nil {
			return "", err
		}
		out.Set(name, v)
	}
	written, err := s.WriteTree(ctx, dir, out)
	if err != nil {
		return "", fmt.Errorf("write merged tree %q: %w", dir, err)
	}
	return written.ID(), nil
}

func (s *Store) mergeValue(ctx context.Context, path models.RepoPath, base, side1, side2 models.TreeValue) (models.TreeValue, error) {
	if v, ok := merge.TrivialMerge([]models.TreeValue{base}, []models.TreeValue{side1, side2}); ok {
		return v, nil
	}

	if treeOrAbsent(base) && treeOrAbsent(side1) && treeOrAbsent(side2) {
		id, err := s.mergeTrees(ctx, path, s.subtreeID(base), s.subtreeID(side1), s.subtreeID(side2))
		if err != nil {
			return models.TreeValue{}, err
		}
		if id == s.EmptyTreeID() {
			return models.TreeValue{}, nil
		}
		return models.SubtreeValue(id), nil
	}

	terms := merge.New([]models.TreeValue{base}, []models.TreeValue{side1, side2})
	expanded, err := merge.TryMap(terms, func(v models.TreeValue) (merge.Merge[models.TreeValue], error) {
		if v.Kind != models.KindConflict {
			return merge.Resolved(v), nil
		}
		c, err := s.ReadConflict(ctx, path, v.ConflictID())
		if err != nil {
			return merge.Merge[models.TreeValue]{}, err
		}
		return c.Merge(), nil
	})
	if err != nil {
		return models.TreeValue{}, err
	}
	flat := merge.Simplify(merge.Flatten(expanded))
	if v, ok := merge.ResolveTrivial(flat); ok {
		return v, nil
	}
	id, err := s.WriteConflict(ctx, path, models.ConflictFromMerge(flat))
	if err != nil {
		return models.TreeValue{}, fmt.Errorf("write conflict %q: %w", path, err)
	}
	return models.ConflictValue(id), nil
}

func treeOrAbsent(v models.TreeValue) bool { return v.IsAbsent() || v.IsTree() }

func (s *Store) subtreeID(v models.TreeValue) models.TreeID {
	if v.IsTree() {
		return v.TreeID()
	}
	return s.EmptyTreeID()
}
