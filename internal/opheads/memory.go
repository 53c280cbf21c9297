package opheads

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/kilupskalvis/opvc/internal/models"
)

// MemoryName is the in-memory store type name.
const MemoryName = "memory"

// MemoryStore keeps the head set in a map. Its lock is a mutex, so it only
// serializes callers within one process.
type MemoryStore struct {
	mu     sync.Mutex
	heads  map[models.OperationID]struct{}
	swap   sync.Mutex
	logger *slog.Logger
}

// NewMemory returns a store whose only head is root.
func NewMemory(root models.OperationID, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{heads: map[models.OperationID]struct{}{root: {}}, logger: logger}
}

func (s *MemoryStore) Name() string { return MemoryName }

func (s *MemoryStore) GetOpHeads(context.Context) ([]models.OperationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heads := make([]models.OperationID, 0, len(s.heads))
	for id := range s.heads {
		heads = append(heads, id)
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })
	return heads, nil
}

func (s *MemoryStore) AddOpHead(_ context.Context, id models.OperationID) error {
	s.mu.Lock()
	s.heads[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RemoveOpHead(_ context.Context, id models.OperationID) error {
	s.mu.Lock()
	delete(s.heads, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context) (Guard, error) {
	s.swap.Lock()
	return &memoryGuard{store: s}, nil
}

type memoryGuard struct {
	store *MemoryStore
	once  sync.Once
}

func (g *memoryGuard) PromoteNewOp(ctx context.Context, id models.OperationID, op *models.Operation) error {
	return promote(ctx, g.store, g.store.logger, id, op)
}

func (g *memoryGuard) Unlock() error {
	g.once.Do(g.store.swap.Unlock)
	return nil
}
