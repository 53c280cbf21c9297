package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilupskalvis/opvc/internal/models"
)

// TreeBuilder records path overrides against a base tree and writes the
// resulting tree. Only directories on the way to a touched path are loaded.
type TreeBuilder struct {
	store     *Store
	base      models.TreeID
	overrides map[models.RepoPath]models.TreeValue
}

func newTreeBuilder(s *Store, base models.TreeID) *TreeBuilder {
	return &TreeBuilder{store: s, base: base, overrides: make(map[models.RepoPath]models.TreeValue)}
}

// Set replaces the value at path. Setting the root panics.
func (b *TreeBuilder) Set(path models.RepoPath, v models.TreeValue) {
	if path.IsRoot() {
		panic("store: cannot set the root of a tree")
	}
	b.overrides[path] = v
}

// Remove deletes whatever is at path.
func (b *TreeBuilder) Remove(path models.RepoPath) {
	if path.IsRoot() {
		panic("store: cannot remove the root of a tree")
	}
	b.overrides[path] = models.TreeValue{}
}

// SetOrRemove sets path to v, or removes it when v is absent.
func (b *TreeBuilder) SetOrRemove(path models.RepoPath, v models.TreeValue) {
	if v.IsAbsent() {
		b.Remove(path)
		return
	}
	b.Set(path, v)
}

// HasOverrides reports whether anything was set or removed.
func (b *TreeBuilder) HasOverrides() bool { return len(b.overrides) > 0 }

// WriteTree writes every modified directory bottom-up and returns the new
// root tree id. Directories left empty are dropped from their parent; the
// root is always written.
func (b *TreeBuilder) WriteTree(ctx context.Context) (models.TreeID, error) {
	if len(b.overrides) == 0 {
		return b.base, nil
	}

	trees, err := b.loadAncestors(ctx)
	if err != nil {
		return "", err
	}

	for path, v := range b.overrides {
		dir, name, _ := path.Split()
		trees[dir].Set(name, v)
	}

	dirs := make([]models.RepoPath, 0, len(trees))
	for dir := range trees {
		dirs = append(dirs, dir)
	}
	// Deepest directories last, so popping from the end visits children
	// before their parents.
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Compare(dirs[j]) < 0 })

	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		tree := trees[dir]
		parentDir, name, ok := dir.Split()
		if !ok {
			written, err := b.store.WriteTree(ctx, dir, tree)
			if err != nil {
				return "", fmt.Errorf("write root tree: %w", err)
			}
			return written.ID(), nil
		}
		parent := trees[parentDir]
		if tree.IsEmpty() {
			// An override may have replaced the directory with a file.
			if parent.Value(name).IsTree() {
				parent.Set(name, models.TreeValue{})
			}
			continue
		}
		written, err := b.store.WriteTree(ctx, dir, tree)
		if err != nil {
			return "", fmt.Errorf("write tree %q: %w", dir, err)
		}
		parent.Set(name, models.SubtreeValue(written.ID()))
	}
	panic("store: tree builder lost the root tree")
}

// loadAncestors returns mutable copies of every directory that contains an
// overridden path, plus all of their ancestors.
func (b *TreeBuilder) loadAncestors(ctx context.Context) (map[models.RepoPath]*models.Tree, error) {
	trees := make(map[models.RepoPath]*models.Tree)

	var populate func(dir models.RepoPath) (*models.Tree, error)
	populate = func(dir models.RepoPath) (*models.Tree, error) {
		if t, ok := trees[dir]; ok {
			return t, nil
		}
		var tree *models.Tree
		if parentDir, name, ok := dir.Split(); ok {
			parent, err := populate(parentDir)
			if err != nil {
				return nil, err
			}
			v := parent.Value(name)
			if v.IsTree() {
				sub, err := b.store.GetTree(ctx, dir, v.TreeID())
				if err != nil {
					return nil, err
				}
				tree = sub.Data().Clone()
			} else {
				tree = models.NewTree()
			}
		} else {
			root, err := b.store.GetTree(ctx, models.RootPath, b.base)
			if err != nil {
				return nil, err
			}
			tree = root.Data().Clone()
		}
		trees[dir] = tree
		return tree, nil
	}

	for path := range b.overrides {
		dir, _, _ := path.Split()
		if _, err := populate(dir); err != nil {
			return nil, fmt.Errorf("load tree %q: %w", dir, err)
		}
	}
	return trees, nil
}
