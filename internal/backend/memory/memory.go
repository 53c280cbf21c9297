// Package memory implements an in-memory object store for tests and dry runs.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kilupskalvis/opvc/internal/backend"
)

// Name is the backend type name in the repository config.
const Name = "memory"

func init() {
	backend.Register(Name, func(_ context.Context, _ string, logger *slog.Logger) (backend.Backend, error) {
		return New(logger), nil
	})
}

type object struct {
	data    []byte
	created time.Time
}

// Store keeps objects in maps guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	objects map[backend.ObjectKind]map[string]object
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		objects: make(map[backend.ObjectKind]map[string]object),
		now:     time.Now,
	}
	for _, k := range backend.AllKinds {
		s.objects[k] = make(map[string]object)
	}
	return s
}

// New returns a backend over a fresh in-memory store.
func New(logger *slog.Logger) *backend.ObjectBackend {
	return backend.NewObjectBackend(Name, NewStore(), logger)
}

// SetClock replaces the clock used to stamp new objects.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Get(_ context.Context, kind backend.ObjectKind, id []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[kind][string(id)]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *Store) Put(_ context.Context, kind backend.ObjectKind, id []byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[kind][string(id)]; ok {
		return nil
	}
	s.objects[kind][string(id)] = object{data: append([]byte(nil), data...), created: s.now()}
	return nil
}

func (s *Store) List(_ context.Context, kind backend.ObjectKind, fn func(id []byte, created time.Time) error) error {
	s.mu.RLock()
	type entry struct {
		id      string
		created time.Time
	}
	entries := make([]entry, 0, len(s.objects[kind]))
	for id, obj := range s.objects[kind] {
		entries = append(entries, entry{id, obj.created})
	}
	s.mu.RUnlock()

	for _, e := range entries {
		if err := fn([]byte(e.id), e.created); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, kind backend.ObjectKind, id []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects[kind], string(id))
	return nil
}

// Concurrency is unbounded in practice; report a small fixed number.
func (s *Store) Concurrency() int { return 8 }

func (s *Store) Close() error { return nil }
