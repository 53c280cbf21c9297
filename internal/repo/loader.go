package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/opvc/internal/backend"
	"github.com/kilupskalvis/opvc/internal/backend/local"
	_ "github.com/kilupskalvis/opvc/internal/backend/memory"
	_ "github.com/kilupskalvis/opvc/internal/backend/sqlite"
	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/opheads"
	"github.com/kilupskalvis/opvc/internal/opstore"
	"github.com/kilupskalvis/opvc/internal/store"
)

// DefaultWorkspace is the workspace created by Init.
const DefaultWorkspace models.WorkspaceID = "default"

const (
	storeDir   = "store"
	opStoreDir = "op_store"
	opHeadsDir = "op_heads"
	typeFile   = "type"

	mergeDescription = "resolve concurrent operations"
)

// StoreTypes names the registered implementations a repo is created with.
type StoreTypes struct {
	Backend string
	OpStore string
	OpHeads string
}

// DefaultStoreTypes returns the on-disk implementations.
func DefaultStoreTypes() StoreTypes {
	return StoreTypes{Backend: local.Name, OpStore: opstore.BoltName, OpHeads: opheads.SimpleName}
}

// Stores bundles already-opened storage layers. OpHeads must contain the
// op store's root operation or later operations.
type Stores struct {
	Backend backend.Backend
	OpStore opstore.OpStore
	OpHeads opheads.OpHeadsStore
}

// RepoLoader opens repos at particular operations. It owns the stores and
// the shared commit index.
type RepoLoader struct {
	store     *store.Store
	opStore   opstore.OpStore
	opHeads   opheads.OpHeadsStore
	index     *Index
	settings  Settings
	changeIDs *ChangeIDGenerator
	logger    *slog.Logger
}

// NewLoader wraps already-opened stores.
func NewLoader(stores Stores, settings Settings, logger *slog.Logger) *RepoLoader {
	logger = newLogger(logger)
	st := store.New(stores.Backend, logger)
	return &RepoLoader{
		store:     st,
		opStore:   stores.OpStore,
		opHeads:   stores.OpHeads,
		index:     NewIndex(st),
		settings:  settings,
		changeIDs: NewChangeIDGenerator(settings.RandomnessSeed),
		logger:    logger,
	}
}

// Init creates the store directories under dir, records their types and
// writes the operation that adds the default workspace.
func Init(ctx context.Context, dir string, types StoreTypes, settings Settings, logger *slog.Logger) (*ReadonlyRepo, error) {
	logger = newLogger(logger)
	for sub, name := range map[string]string{storeDir: types.Backend, opStoreDir: types.OpStore, opHeadsDir: types.OpHeads} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
		if err := os.WriteFile(filepath.Join(path, typeFile), []byte(name+"\n"), 0644); err != nil {
			return nil, fmt.Errorf("write %s type: %w", sub, err)
		}
	}

	b, err := backend.Open(ctx, types.Backend, filepath.Join(dir, storeDir), logger)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	ops, err := opstore.Open(ctx, types.OpStore, filepath.Join(dir, opStoreDir), b.RootCommitID(), logger)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open op store: %w", err)
	}
	heads, err := opheads.Init(ctx, types.OpHeads, filepath.Join(dir, opHeadsDir), ops.RootOperationID(), logger)
	if err != nil {
		_ = errors.Join(ops.Close(), b.Close())
		return nil, fmt.Errorf("init op heads: %w", err)
	}
	return InitWithStores(ctx, Stores{Backend: b, OpStore: ops, OpHeads: heads}, settings, logger)
}

// InitWithStores writes the first operation onto fresh stores.
func InitWithStores(ctx context.Context, stores Stores, settings Settings, logger *slog.Logger) (*ReadonlyRepo, error) {
	l := NewLoader(stores, settings, logger)
	rootOp, err := l.ReadOperation(ctx, l.opStore.RootOperationID())
	if err != nil {
		return nil, err
	}
	root, err := l.LoadAt(ctx, rootOp)
	if err != nil {
		return nil, err
	}
	rootCommit, err := l.store.RootCommit(ctx)
	if err != nil {
		return nil, err
	}
	tx := root.StartTransaction()
	if _, err := tx.Repo().CheckOut(ctx, DefaultWorkspace, rootCommit); err != nil {
		return nil, err
	}
	return tx.Commit(ctx, fmt.Sprintf("add workspace '%s'", DefaultWorkspace))
}

// Load opens the stores recorded under dir.
func Load(ctx context.Context, dir string, settings Settings, logger *slog.Logger) (*RepoLoader, error) {
	logger = newLogger(logger)
	types, err := readStoreTypes(dir)
	if err != nil {
		return nil, err
	}
	b, err := backend.Open(ctx, types.Backend, filepath.Join(dir, storeDir), logger)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	ops, err := opstore.Open(ctx, types.OpStore, filepath.Join(dir, opStoreDir), b.RootCommitID(), logger)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open op store: %w", err)
	}
	heads, err := opheads.Open(ctx, types.OpHeads, filepath.Join(dir, opHeadsDir), logger)
	if err != nil {
		_ = errors.Join(ops.Close(), b.Close())
		return nil, fmt.Errorf("open op heads: %w", err)
	}
	return NewLoader(Stores{Backend: b, OpStore: ops, OpHeads: heads}, settings, logger), nil
}

func readStoreTypes(dir string) (StoreTypes, error) {
	read := func(sub string) (string, error) {
		data, err := os.ReadFile(filepath.Join(dir, sub, typeFile))
		if err != nil {
			return "", fmt.Errorf("read %s type: %w", sub, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	var (
		t   StoreTypes
		err error
	)
	if t.Backend, err = read(storeDir); err != nil {
		return t, err
	}
	if t.OpStore, err = read(opStoreDir); err != nil {
		return t, err
	}
	if t.OpHeads, err = read(opHeadsDir); err != nil {
		return t, err
	}
	return t, nil
}

func (l *RepoLoader) Store() *store.Store                { return l.store }
func (l *RepoLoader) OpStore() opstore.OpStore           { return l.opStore }
func (l *RepoLoader) OpHeadsStore() opheads.OpHeadsStore { return l.opHeads }
func (l *RepoLoader) Settings() Settings                 { return l.settings }

// Close closes the backend and the op store.
func (l *RepoLoader) Close() error {
	return errors.Join(l.opStore.Close(), l.store.Backend().Close())
}

// LoadAt returns the repo as of op.
func (l *RepoLoader) LoadAt(ctx context.Context, op *Operation) (*ReadonlyRepo, error) {
	view, err := l.ReadView(ctx, op)
	if err != nil {
		return nil, err
	}
	return &ReadonlyRepo{loader: l, op: op, view: view}, nil
}

// LoadAtHead returns the repo at the current op head. Several heads mean
// concurrent writers; they are merged into one new operation, published
// under the op heads lock.
func (l *RepoLoader) LoadAtHead(ctx context.Context) (*ReadonlyRepo, error) {
	ids, err := l.opHeads.GetOpHeads(ctx)
	if err != nil {
		return nil, fmt.Errorf("read op heads: %w", err)
	}
	switch len(ids) {
	case 0:
		return nil, opheads.ErrNoHeads
	case 1:
		op, err := l.ReadOperation(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		return l.LoadAt(ctx, op)
	}
	return l.resolveOpHeads(ctx)
}

func (l *RepoLoader) resolveOpHeads(ctx context.Context) (*ReadonlyRepo, error) {
	guard, err := l.opHeads.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock op heads: %w", err)
	}
	defer guard.Unlock()

	// Another process may have resolved the heads while we waited.
	ids, err := l.opHeads.GetOpHeads(ctx)
	if err != nil {
		return nil, fmt.Errorf("read op heads: %w", err)
	}
	if len(ids) == 0 {
		return nil, opheads.ErrNoHeads
	}
	ops, err := l.readOperations(ctx, ids)
	if err != nil {
		return nil, err
	}
	heads, err := dagHeads(ops, operationID, func(op *Operation) ([]*Operation, error) {
		return l.operationParents(ctx, op)
	})
	if err != nil {
		return nil, fmt.Errorf("find op heads: %w", err)
	}

	live := make(map[models.OperationID]struct{}, len(heads))
	for _, op := range heads {
		live[op.id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := live[id]; ok {
			continue
		}
		if err := l.opHeads.RemoveOpHead(ctx, id); err != nil {
			return nil, fmt.Errorf("remove stale op head %s: %w", id.Short(), err)
		}
		l.logger.Debug("removed stale op head", "op", id.Hex())
	}
	if len(heads) == 1 {
		return l.LoadAt(ctx, heads[0])
	}

	u, err := l.mergeOperations(ctx, heads)
	if err != nil {
		return nil, err
	}
	repo, err := u.promoteWith(ctx, guard)
	if err != nil {
		return nil, err
	}
	concurrentMerges.Inc()
	l.logger.Info("resolved concurrent operations", "heads", len(heads), "op", repo.op.id.Hex())
	return repo, nil
}

func (l *RepoLoader) readOperations(ctx context.Context, ids []models.OperationID) ([]*Operation, error) {
	ops := make([]*Operation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, l.store.Concurrency()))
	for i, id := range ids {
		g.Go(func() error {
			op, err := l.ReadOperation(gctx, id)
			if err != nil {
				return err
			}
			ops[i] = op
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ops, nil
}

// MergeOperations merges a and b into a new, unpublished operation. The
// result does not depend on argument order.
func (l *RepoLoader) MergeOperations(ctx context.Context, a, b *Operation) (*UnpublishedOperation, error) {
	return l.mergeOperations(ctx, []*Operation{a, b})
}

// mergeOperations orders ops by end time then id, starts on the first and
// merges in the rest.
func (l *RepoLoader) mergeOperations(ctx context.Context, ops []*Operation) (*UnpublishedOperation, error) {
	ops = append([]*Operation(nil), ops...)
	sort.Slice(ops, func(i, j int) bool {
		ei, ej := ops[i].data.Metadata.EndTime, ops[j].data.Metadata.EndTime
		if ei.Millis != ej.Millis {
			return ei.Millis < ej.Millis
		}
		return ops[i].id < ops[j].id
	})
	base, err := l.LoadAt(ctx, ops[0])
	if err != nil {
		return nil, err
	}
	tx := base.StartTransaction()
	for _, other := range ops[1:] {
		if err := tx.MergeOperation(ctx, other); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Repo().RebaseDescendants(ctx); err != nil {
		return nil, fmt.Errorf("rebase after merge: %w", err)
	}
	return tx.Write(ctx, mergeDescription)
}

// ResolveOperation finds an operation by hex id prefix. "@" names the
// current head operation.
func (l *RepoLoader) ResolveOperation(ctx context.Context, s string) (*Operation, error) {
	if s == "@" {
		repo, err := l.LoadAtHead(ctx)
		if err != nil {
			return nil, err
		}
		return repo.op, nil
	}
	id, err := l.opStore.ResolveOperationIDPrefix(ctx, s)
	if err != nil {
		return nil, err
	}
	return l.ReadOperation(ctx, id)
}
