package repo

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

// Index answers ancestry questions about commits. Entries are loaded from the
// store on demand and never change, so one Index is shared by every repo
// handle over the same store.
type Index struct {
	store *store.Store

	mu      sync.Mutex
	entries map[models.CommitID]*indexEntry
}

type indexEntry struct {
	parents    []models.CommitID
	changeID   models.ChangeID
	generation int
}

// NewIndex returns an empty index over st.
func NewIndex(st *store.Store) *Index {
	return &Index{store: st, entries: make(map[models.CommitID]*indexEntry)}
}

func (ix *Index) cached(id models.CommitID) (*indexEntry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[id]
	return e, ok
}

// entry loads id and every ancestor not yet indexed, assigning generation
// numbers (root = 0, otherwise one more than the highest parent).
func (ix *Index) entry(ctx context.Context, id models.CommitID) (*indexEntry, error) {
	if e, ok := ix.cached(id); ok {
		return e, nil
	}

	type frame struct {
		id     models.CommitID
		commit *store.Commit
	}
	stack := []frame{{id: id}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if _, ok := ix.cached(top.id); ok {
			stack = stack[:len(stack)-1]
			continue
		}
		if top.commit == nil {
			c, err := ix.store.GetCommit(ctx, top.id)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrCommitNotFound, top.id.Short(), err)
			}
			top.commit = c
		}
		pending := false
		gen := 0
		for _, p := range top.commit.Parents() {
			pe, ok := ix.cached(p)
			if !ok {
				stack = append(stack, frame{id: p})
				pending = true
				continue
			}
			if pe.generation+1 > gen {
				gen = pe.generation + 1
			}
		}
		if pending {
			continue
		}
		e := &indexEntry{
			parents:    top.commit.Parents(),
			changeID:   top.commit.ChangeID(),
			generation: gen,
		}
		ix.mu.Lock()
		ix.entries[top.id] = e
		ix.mu.Unlock()
		stack = stack[:len(stack)-1]
	}
	e, _ := ix.cached(id)
	return e, nil
}

// Parents returns the parent ids of id.
func (ix *Index) Parents(ctx context.Context, id models.CommitID) ([]models.CommitID, error) {
	e, err := ix.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.parents, nil
}

// ChangeID returns the change id of id.
func (ix *Index) ChangeID(ctx context.Context, id models.CommitID) (models.ChangeID, error) {
	e, err := ix.entry(ctx, id)
	if err != nil {
		return "", err
	}
	return e.changeID, nil
}

// IsAncestor reports whether ancestor is descendant or one of its ancestors.
func (ix *Index) IsAncestor(ctx context.Context, ancestor, descendant models.CommitID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	target, err := ix.entry(ctx, ancestor)
	if err != nil {
		return false, err
	}
	seen := map[models.CommitID]struct{}{descendant: {}}
	work := []models.CommitID{descendant}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		e, err := ix.entry(ctx, id)
		if err != nil {
			return false, err
		}
		for _, p := range e.parents {
			if p == ancestor {
				return true, nil
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			pe, err := ix.entry(ctx, p)
			if err != nil {
				return false, err
			}
			// Nothing below the target's generation can reach it.
			if pe.generation > target.generation {
				work = append(work, p)
			}
		}
	}
	return false, nil
}

// Heads returns the ids that are not ancestors of any other id in ids,
// sorted.
func (ix *Index) Heads(ctx context.Context, ids []models.CommitID) ([]models.CommitID, error) {
	candidates := make(map[models.CommitID]struct{}, len(ids))
	minGen := -1
	for _, id := range ids {
		e, err := ix.entry(ctx, id)
		if err != nil {
			return nil, err
		}
		candidates[id] = struct{}{}
		if minGen < 0 || e.generation < minGen {
			minGen = e.generation
		}
	}

	seen := make(map[models.CommitID]struct{})
	var work []models.CommitID
	for id := range candidates {
		work = append(work, id)
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		e, err := ix.entry(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range e.parents {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			delete(candidates, p)
			pe, err := ix.entry(ctx, p)
			if err != nil {
				return nil, err
			}
			if pe.generation > minGen {
				work = append(work, p)
			}
		}
	}
	return sortedCommitIDs(candidates), nil
}

// WalkRevs returns the commits reachable from wanted but not from unwanted,
// highest generation first.
func (ix *Index) WalkRevs(ctx context.Context, wanted, unwanted []models.CommitID) ([]models.CommitID, error) {
	q := &revQueue{}
	state := make(map[models.CommitID]bool) // true: unwanted
	wantedQueued := 0
	push := func(id models.CommitID, isUnwanted bool) error {
		if prev, ok := state[id]; ok {
			if isUnwanted && !prev {
				state[id] = true
				wantedQueued--
			}
			return nil
		}
		e, err := ix.entry(ctx, id)
		if err != nil {
			return err
		}
		state[id] = isUnwanted
		if !isUnwanted {
			wantedQueued++
		}
		heap.Push(q, revItem{id: id, generation: e.generation})
		return nil
	}
	for _, id := range unwanted {
		if err := push(id, true); err != nil {
			return nil, err
		}
	}
	for _, id := range wanted {
		if err := push(id, false); err != nil {
			return nil, err
		}
	}

	var out []models.CommitID
	for q.Len() > 0 && wantedQueued > 0 {
		item := heap.Pop(q).(revItem)
		isUnwanted := state[item.id]
		if !isUnwanted {
			wantedQueued--
			out = append(out, item.id)
		}
		e, err := ix.entry(ctx, item.id)
		if err != nil {
			return nil, err
		}
		for _, p := range e.parents {
			if err := push(p, isUnwanted); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// CommonAncestor returns the closest commit reachable from both sets.
func (ix *Index) CommonAncestor(ctx context.Context, set1, set2 []models.CommitID) (models.CommitID, error) {
	id, ok, err := closestCommonNode(set1, set2,
		func(id models.CommitID) models.CommitID { return id },
		func(id models.CommitID) ([]models.CommitID, error) { return ix.Parents(ctx, id) },
	)
	if err != nil {
		return "", err
	}
	if !ok {
		return ix.store.RootCommitID(), nil
	}
	return id, nil
}

type revItem struct {
	id         models.CommitID
	generation int
}

// revQueue pops the highest generation first, ties broken by id.
type revQueue []revItem

func (q revQueue) Len() int { return len(q) }
func (q revQueue) Less(i, j int) bool {
	if q[i].generation != q[j].generation {
		return q[i].generation > q[j].generation
	}
	return q[i].id > q[j].id
}
func (q revQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *revQueue) Push(x any)  { *q = append(*q, x.(revItem)) }
func (q *revQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}
