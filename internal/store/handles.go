package store

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/opvc/internal/models"
)

// Commit is a commit id paired with its loaded record.
type Commit struct {
	store *Store
	id    models.CommitID
	data  *models.Commit
}

func (c *Commit) ID() models.CommitID             { return c.id }
func (c *Commit) Data() *models.Commit            { return c.data }
func (c *Commit) Parents() []models.CommitID      { return c.data.Parents }
func (c *Commit) Predecessors() []models.CommitID { return c.data.Predecessors }
func (c *Commit) TreeID() models.MergedTreeID     { return c.data.RootTree }
func (c *Commit) ChangeID() models.ChangeID       { return c.data.ChangeID }
func (c *Commit) Description() string             { return c.data.Description }
func (c *Commit) Author() models.Signature        { return c.data.Author }
func (c *Commit) Committer() models.Signature     { return c.data.Committer }

// IsRoot reports whether this is the backend's root commit.
func (c *Commit) IsRoot() bool { return c.id == c.store.RootCommitID() }

// ParentCommits loads the parents in order.
func (c *Commit) ParentCommits(ctx context.Context) ([]*Commit, error) {
	out := make([]*Commit, 0, len(c.data.Parents))
	for _, id := range c.data.Parents {
		p, err := c.store.GetCommit(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load parent %s: %w", id.Short(), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Tree loads the commit's root tree. Conflicted root trees return an error.
func (c *Commit) Tree(ctx context.Context) (*Tree, error) {
	return c.store.RootTree(ctx, c.data.RootTree)
}

// Tree is one loaded directory level.
type Tree struct {
	store *Store
	dir   models.RepoPath
	id    models.TreeID
	data  *models.Tree
}

func (t *Tree) ID() models.TreeID    { return t.id }
func (t *Tree) Dir() models.RepoPath { return t.dir }
func (t *Tree) Data() *models.Tree   { return t.data }
func (t *Tree) Names() []string      { return t.data.Names() }
func (t *Tree) IsEmpty() bool        { return t.data.IsEmpty() }

// Value returns the named entry, or an absent value.
func (t *Tree) Value(name string) models.TreeValue { return t.data.Value(name) }

// SubTree returns the named subdirectory. A missing entry or one that is not
// a tree yields an empty tree.
func (t *Tree) SubTree(ctx context.Context, name string) (*Tree, error) {
	v := t.data.Value(name)
	if !v.IsTree() {
		return &Tree{store: t.store, dir: t.dir.Join(name), id: t.store.EmptyTreeID(), data: models.NewTree()}, nil
	}
	return t.store.GetTree(ctx, t.dir.Join(name), v.TreeID())
}

// PathValue resolves a path below this tree. Missing paths are absent.
func (t *Tree) PathValue(ctx context.Context, path models.RepoPath) (models.TreeValue, error) {
	comps := path.Components()
	if len(comps) == 0 {
		return models.SubtreeValue(t.id), nil
	}
	cur := t
	for _, c := range comps[:len(comps)-1] {
		v := cur.data.Value(c)
		if !v.IsTree() {
			return models.TreeValue{}, nil
		}
		next, err := cur.SubTree(ctx, c)
		if err != nil {
			return models.TreeValue{}, err
		}
		cur = next
	}
	return cur.data.Value(comps[len(comps)-1]), nil
}

// Entries returns every non-tree value below this tree keyed by full path.
func (t *Tree) Entries(ctx context.Context) (map[models.RepoPath]models.TreeValue, error) {
	out := make(map[models.RepoPath]models.TreeValue)
	if err := t.collect(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) collect(ctx context.Context, out map[models.RepoPath]models.TreeValue) error {
	for _, name := range t.data.Names() {
		v := t.data.Value(name)
		if !v.IsTree() {
			out[t.dir.Join(name)] = v
			continue
		}
		sub, err := t.store.GetTree(ctx, t.dir.Join(name), v.TreeID())
		if err != nil {
			return err
		}
		if err := sub.collect(ctx, out); err != nil {
			return err
		}
	}
	return nil
}
