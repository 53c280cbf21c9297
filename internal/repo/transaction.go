package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/opheads"
)

// ErrAlreadyPublished is returned when an unpublished operation is
// published or left unpublished twice.
var ErrAlreadyPublished = errors.New("operation already published")

// Transaction collects changes on top of one or more parent operations and
// writes them as a single new operation.
type Transaction struct {
	mut     *MutableRepo
	parents []*Operation
	start   models.Timestamp
	tags    map[string]string
	logger  *slog.Logger
}

func newTransaction(r *ReadonlyRepo) *Transaction {
	return &Transaction{
		mut:     newMutableRepo(r, r.view),
		parents: []*Operation{r.op},
		start:   models.TimestampFromTime(r.loader.settings.now()),
		tags:    make(map[string]string),
		logger:  r.loader.logger,
	}
}

func (tx *Transaction) Repo() *MutableRepo             { return tx.mut }
func (tx *Transaction) BaseRepo() *ReadonlyRepo        { return tx.mut.base }
func (tx *Transaction) ParentOperations() []*Operation { return tx.parents }

// SetTag records a key/value pair in the operation's metadata.
func (tx *Transaction) SetTag(key, value string) { tx.tags[key] = value }

// MergeOperation folds other's changes into the transaction, using the
// closest common ancestor of other and the current parents as the merge
// base, and adds other as a parent. Rewrites found during the merge are
// recorded but not rebased; call Repo().RebaseDescendants before Write.
func (tx *Transaction) MergeOperation(ctx context.Context, other *Operation) error {
	for _, p := range tx.parents {
		if p.id == other.id {
			return nil
		}
	}
	loader := tx.mut.base.loader
	ancestor, ok, err := closestCommonNode(tx.parents, []*Operation{other}, operationID,
		func(op *Operation) ([]*Operation, error) { return loader.operationParents(ctx, op) },
	)
	if err != nil {
		return fmt.Errorf("find merge base: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrMergeAncestorNotFound, other.id.Short())
	}

	baseView, err := loader.ReadView(ctx, ancestor)
	if err != nil {
		return err
	}
	otherView, err := loader.ReadView(ctx, other)
	if err != nil {
		return err
	}
	// A failed merge leaves the transaction as it was.
	saved := tx.mut.snapshot()
	if err := tx.mut.merge(ctx, baseView, otherView); err != nil {
		tx.mut.restore(saved)
		return fmt.Errorf("merge operation %s: %w", other.id.Short(), err)
	}
	tx.parents = append(tx.parents, other)
	tx.logger.Debug("merged operation", "op", other.id.Hex(), "base", ancestor.id.Hex())
	return nil
}

// UndoOperation reverts the changes op made, keeping everything that
// happened since. op must have exactly one parent.
func (tx *Transaction) UndoOperation(ctx context.Context, op *Operation) error {
	loader := tx.mut.base.loader
	switch len(op.Parents()) {
	case 0:
		return fmt.Errorf("cannot undo the root operation")
	case 1:
	default:
		return fmt.Errorf("cannot undo merge operation %s", op.id.Short())
	}
	parent, err := loader.ReadOperation(ctx, op.Parents()[0])
	if err != nil {
		return err
	}
	badView, err := loader.ReadView(ctx, op)
	if err != nil {
		return err
	}
	parentView, err := loader.ReadView(ctx, parent)
	if err != nil {
		return err
	}
	return tx.mut.merge(ctx, badView, parentView)
}

// RestoreView replaces the whole view with view, typically the view of an
// earlier operation.
func (tx *Transaction) RestoreView(ctx context.Context, view *models.View) error {
	return tx.mut.SetView(ctx, view)
}

// Write persists the view and a new operation on top of the parents. The
// operation is not visible until the returned handle is published. Write
// panics if rewritten commits still have unrebased descendants.
func (tx *Transaction) Write(ctx context.Context, description string) (*UnpublishedOperation, error) {
	if tx.mut.HasRewrites() {
		panic("repo: transaction written with unrebased rewrites")
	}
	loader := tx.mut.base.loader
	view := tx.mut.view.Clone()
	viewID, err := loader.opStore.WriteView(ctx, view)
	if err != nil {
		return nil, fmt.Errorf("write view: %w", err)
	}

	parents := make([]models.OperationID, len(tx.parents))
	for i, p := range tx.parents {
		parents[i] = p.id
	}
	var tags map[string]string
	if len(tx.tags) > 0 {
		tags = make(map[string]string, len(tx.tags))
		for k, v := range tx.tags {
			tags[k] = v
		}
	}
	data := &models.Operation{
		ViewID:  viewID,
		Parents: parents,
		Metadata: models.OperationMetadata{
			StartTime:   tx.start,
			EndTime:     models.TimestampFromTime(loader.settings.now()),
			Description: description,
			Hostname:    loader.settings.Hostname,
			Username:    loader.settings.Username,
			Tags:        tags,
		},
	}
	id, err := loader.opStore.WriteOperation(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("write operation: %w", err)
	}
	tx.logger.Debug("wrote operation", "op", id.Hex(), "parents", len(parents), "description", description)

	repo := &ReadonlyRepo{loader: loader, op: &Operation{id: id, data: data}, view: view}
	return newUnpublishedOperation(repo), nil
}

// Commit writes and publishes the transaction.
func (tx *Transaction) Commit(ctx context.Context, description string) (*ReadonlyRepo, error) {
	u, err := tx.Write(ctx, description)
	if err != nil {
		return nil, err
	}
	return u.Publish(ctx)
}

// UnpublishedOperation is a written operation that is not yet an op head.
// Exactly one of Publish or LeaveUnpublished must be called; dropping the
// handle without either is logged as an error.
type UnpublishedOperation struct {
	repo *ReadonlyRepo
	done *atomic.Bool
}

func newUnpublishedOperation(repo *ReadonlyRepo) *UnpublishedOperation {
	u := &UnpublishedOperation{repo: repo, done: new(atomic.Bool)}
	logger, id := repo.loader.logger, repo.op.id
	runtime.AddCleanup(u, func(done *atomic.Bool) {
		if !done.Load() {
			logger.Error("operation dropped without being published", "op", id.Hex())
		}
	}, u.done)
	return u
}

// Operation returns the written operation.
func (u *UnpublishedOperation) Operation() *Operation { return u.repo.op }

// Publish makes the operation an op head, replacing its parents, and
// returns the repo at the new operation.
func (u *UnpublishedOperation) Publish(ctx context.Context) (*ReadonlyRepo, error) {
	if u.done.Swap(true) {
		return nil, ErrAlreadyPublished
	}
	guard, err := u.repo.loader.opHeads.Lock(ctx)
	if err != nil {
		u.done.Store(false)
		return nil, fmt.Errorf("lock op heads: %w", err)
	}
	if err := guard.PromoteNewOp(ctx, u.repo.op.id, u.repo.op.data); err != nil {
		_ = guard.Unlock()
		u.done.Store(false)
		return nil, fmt.Errorf("publish operation %s: %w", u.repo.op.id.Short(), err)
	}
	if err := guard.Unlock(); err != nil {
		return nil, fmt.Errorf("unlock op heads: %w", err)
	}
	return u.repo, nil
}

// LeaveUnpublished returns the repo at the operation without touching the
// op heads.
func (u *UnpublishedOperation) LeaveUnpublished() (*ReadonlyRepo, error) {
	if u.done.Swap(true) {
		return nil, ErrAlreadyPublished
	}
	return u.repo, nil
}

// promoteWith publishes under a guard the caller already holds.
func (u *UnpublishedOperation) promoteWith(ctx context.Context, guard opheads.Guard) (*ReadonlyRepo, error) {
	if u.done.Swap(true) {
		return nil, ErrAlreadyPublished
	}
	if err := guard.PromoteNewOp(ctx, u.repo.op.id, u.repo.op.data); err != nil {
		return nil, fmt.Errorf("publish operation %s: %w", u.repo.op.id.Short(), err)
	}
	return u.repo, nil
}
