// Package opheads tracks the operations that have no recorded descendant.
package opheads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kilupskalvis/opvc/internal/lock"
	"github.com/kilupskalvis/opvc/internal/models"
)

// ErrNoHeads means the head set is empty, which only a corrupt repo produces.
var ErrNoHeads = errors.New("no operation heads")

// OpHeadsStore holds the current head set. Reads never take the lock; only
// PromoteNewOp is serialized.
type OpHeadsStore interface {
	Name() string
	GetOpHeads(ctx context.Context) ([]models.OperationID, error)
	AddOpHead(ctx context.Context, id models.OperationID) error
	// RemoveOpHead succeeds when the head is already gone.
	RemoveOpHead(ctx context.Context, id models.OperationID) error
	Lock(ctx context.Context) (Guard, error)
}

// Guard is a held head-set lock.
type Guard interface {
	// PromoteNewOp adds id as a head and removes op's parents from the set.
	PromoteNewOp(ctx context.Context, id models.OperationID, op *models.Operation) error
	Unlock() error
}

// SimpleName is the directory-of-files store type name.
const SimpleName = "simple"

const lockFileName = "lock"

// SimpleStore keeps one empty file per head, named by the hex operation id,
// in dir/heads.
type SimpleStore struct {
	dir     string
	backoff *lock.Backoff
	logger  *slog.Logger
}

// InitSimple creates the heads directory under dir and records root as the
// only head.
func InitSimple(ctx context.Context, dir string, root models.OperationID, logger *slog.Logger) (*SimpleStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "heads"), 0o755); err != nil {
		return nil, fmt.Errorf("create op heads dir: %w", err)
	}
	s := LoadSimple(dir, logger)
	if err := s.AddOpHead(ctx, root); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSimple opens an existing store under dir.
func LoadSimple(dir string, logger *slog.Logger) *SimpleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleStore{dir: filepath.Join(dir, "heads"), backoff: lock.DefaultBackoff(), logger: logger}
}

// SetBackoff overrides the lock retry schedule.
func (s *SimpleStore) SetBackoff(b *lock.Backoff) { s.backoff = b }

func (s *SimpleStore) Name() string { return SimpleName }

func (s *SimpleStore) headPath(id models.OperationID) string {
	return filepath.Join(s.dir, id.Hex())
}

func (s *SimpleStore) GetOpHeads(_ context.Context) ([]models.OperationID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read op heads: %w", err)
	}
	var heads []models.OperationID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == lockFileName || strings.HasPrefix(name, ".") {
			continue
		}
		id, err := models.OperationIDFromHex(name)
		if err != nil {
			continue
		}
		heads = append(heads, id)
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })
	return heads, nil
}

func (s *SimpleStore) AddOpHead(_ context.Context, id models.OperationID) error {
	if err := os.WriteFile(s.headPath(id), nil, 0o644); err != nil {
		return fmt.Errorf("add op head %s: %w", id.Short(), err)
	}
	return nil
}

func (s *SimpleStore) RemoveOpHead(_ context.Context, id models.OperationID) error {
	err := os.Remove(s.headPath(id))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		// A missing head means another writer removed it without working
		// locking. The next load sees the extra head and merges it.
		return nil
	}
	return fmt.Errorf("remove op head %s: %w", id.Short(), err)
}

func (s *SimpleStore) Lock(ctx context.Context) (Guard, error) {
	l, err := lock.Acquire(ctx, filepath.Join(s.dir, lockFileName), s.backoff)
	if err != nil {
		return nil, fmt.Errorf("lock op heads: %w", err)
	}
	return &simpleGuard{store: s, lock: l}, nil
}

type simpleGuard struct {
	store *SimpleStore
	lock  *lock.FileLock
}

func (g *simpleGuard) PromoteNewOp(ctx context.Context, id models.OperationID, op *models.Operation) error {
	return promote(ctx, g.store, g.store.logger, id, op)
}

func (g *simpleGuard) Unlock() error { return g.lock.Unlock() }

func promote(ctx context.Context, s OpHeadsStore, logger *slog.Logger, id models.OperationID, op *models.Operation) error {
	if op.HasParent(id) {
		panic(fmt.Sprintf("opheads: operation %s lists itself as a parent", id.Short()))
	}
	if err := s.AddOpHead(ctx, id); err != nil {
		return err
	}
	for _, parent := range op.Parents {
		if err := s.RemoveOpHead(ctx, parent); err != nil {
			return fmt.Errorf("promote %s: %w", id.Short(), err)
		}
	}
	promotions.Inc()
	logger.Debug("promoted operation", "op", id.Hex(), "parents", len(op.Parents))
	return nil
}
