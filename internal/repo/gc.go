package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/opvc/internal/models"
)

// commitSet is the backend.Index handed to Store.GC.
type commitSet []models.CommitID

func (s commitSet) AllHeads(context.Context) ([]models.CommitID, error) { return s, nil }

// GC removes operations, views and objects that no operation reachable from
// the op heads refers to. Anything written after keepNewer is kept, so a
// concurrent writer's new objects survive.
func (l *RepoLoader) GC(ctx context.Context, keepNewer time.Time) error {
	heads, err := l.opHeads.GetOpHeads(ctx)
	if err != nil {
		return fmt.Errorf("read op heads: %w", err)
	}

	var ops []*Operation
	seen := make(map[models.OperationID]struct{})
	queue := append([]models.OperationID(nil), heads...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		op, err := l.ReadOperation(ctx, id)
		if err != nil {
			return err
		}
		ops = append(ops, op)
		queue = append(queue, op.Parents()...)
	}

	var (
		mu   sync.Mutex
		keep = make(map[models.CommitID]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, l.store.Concurrency()))
	for _, op := range ops {
		g.Go(func() error {
			view, err := l.ReadView(gctx, op)
			if err != nil {
				return err
			}
			ids := viewCommitIDs(view)
			mu.Lock()
			for _, id := range ids {
				keep[id] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := l.store.GC(ctx, commitSet(sortedCommitIDs(keep)), keepNewer); err != nil {
		return fmt.Errorf("collect objects: %w", err)
	}
	if err := l.opStore.GC(ctx, heads, keepNewer); err != nil {
		return fmt.Errorf("collect operations: %w", err)
	}
	gcRuns.Inc()
	l.logger.Info("gc complete", "operations", len(ops), "commits", len(keep))
	return nil
}

// viewCommitIDs lists every commit a view can reach directly.
func viewCommitIDs(v *models.View) []models.CommitID {
	var out []models.CommitID
	out = append(out, v.Heads()...)
	for _, id := range v.WCCommitIDs {
		out = append(out, id)
	}
	add := func(t models.RefTarget) {
		out = append(out, t.AddedIDs()...)
		out = append(out, t.RemovedIDs()...)
	}
	for _, t := range v.LocalBookmarks {
		add(t)
	}
	for _, t := range v.Tags {
		add(t)
	}
	for _, rv := range v.RemoteViews {
		for _, ref := range rv.Bookmarks {
			add(ref.Target)
		}
	}
	return out
}
