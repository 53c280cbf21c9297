package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/opvc/internal/models"
)

// LiveSet records the objects found reachable during GC marking.
type LiveSet struct {
	mu  sync.Mutex
	ids map[ObjectKind]map[string]struct{}
}

func newLiveSet() *LiveSet {
	s := &LiveSet{ids: make(map[ObjectKind]map[string]struct{})}
	for _, k := range AllKinds {
		s.ids[k] = make(map[string]struct{})
	}
	return s
}

// add records id and reports whether it was new.
func (s *LiveSet) add(kind ObjectKind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[kind][id]; ok {
		return false
	}
	s.ids[kind][id] = struct{}{}
	return true
}

// Has reports whether the object was marked.
func (s *LiveSet) Has(kind ObjectKind, id []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[kind][string(id)]
	return ok
}

// Len returns the number of marked objects of every kind.
func (s *LiveSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.ids {
		n += len(m)
	}
	return n
}

// Mark walks every commit reachable from heads through parents and
// predecessors, then every tree, file, symlink and conflict those commits
// refer to. Trees are walked in parallel up to b.Concurrency(). Missing
// predecessors are skipped since they may have been collected before.
func Mark(ctx context.Context, b Backend, heads []models.CommitID) (*LiveSet, error) {
	live := newLiveSet()

	var trees []models.TreeID
	queue := append([]models.CommitID(nil), heads...)
	required := make(map[models.CommitID]bool, len(heads))
	for _, id := range heads {
		required[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if !live.add(KindCommit, string(id)) {
			continue
		}
		c, err := b.ReadCommit(ctx, id)
		if err != nil {
			if !required[id] && errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range c.Parents {
			required[p] = true
		}
		queue = append(queue, c.Parents...)
		queue = append(queue, c.Predecessors...)
		merged := c.RootTree.Trees()
		trees = append(trees, merged.Removes()...)
		trees = append(trees, merged.Adds()...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.Concurrency()))
	m := &marker{ctx: gctx, b: b, live: live, g: g}
	for _, id := range trees {
		if err := m.spawnTree(models.RootPath, id); err != nil {
			_ = g.Wait()
			return nil, err
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return live, nil
}

type marker struct {
	ctx  context.Context
	b    Backend
	live *LiveSet
	g    *errgroup.Group
}

// spawnTree marks a tree on a new goroutine when a slot is free, inline
// otherwise, so a full group never blocks on its own children.
func (m *marker) spawnTree(dir models.RepoPath, id models.TreeID) error {
	if !m.live.add(KindTree, string(id)) {
		return nil
	}
	fn := func() error { return m.markTree(dir, id) }
	if m.g.TryGo(fn) {
		return nil
	}
	return fn()
}

func (m *marker) markTree(dir models.RepoPath, id models.TreeID) error {
	if err := m.ctx.Err(); err != nil {
		return err
	}
	tree, err := m.b.ReadTree(m.ctx, dir, id)
	if err != nil {
		return err
	}
	for _, name := range tree.Names() {
		if err := m.markValue(dir.Join(name), tree.Value(name)); err != nil {
			return err
		}
	}
	return nil
}

func (m *marker) markValue(path models.RepoPath, v models.TreeValue) error {
	switch v.Kind {
	case models.KindAbsent:
	case models.KindFile:
		m.live.add(KindFile, v.ID)
	case models.KindSymlink:
		m.live.add(KindSymlink, v.ID)
	case models.KindTree:
		return m.spawnTree(path, v.TreeID())
	case models.KindConflict:
		if !m.live.add(KindConflict, v.ID) {
			return nil
		}
		c, err := m.b.ReadConflict(m.ctx, path, v.ConflictID())
		if err != nil {
			return err
		}
		terms := append(append([]models.TreeValue(nil), c.Removes...), c.Adds...)
		for _, term := range terms {
			if err := m.markValue(path, term); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown tree value kind %v at %q", v.Kind, path)
	}
	return nil
}
