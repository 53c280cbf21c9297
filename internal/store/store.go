// Package store wraps a Backend with read-through caches and hands out
// Commit and Tree handles.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kilupskalvis/opvc/internal/backend"
	"github.com/kilupskalvis/opvc/internal/models"
)

type treeKey struct {
	dir models.RepoPath
	id  models.TreeID
}

// Store is safe for concurrent use. The commit and tree caches have their
// own locks, so a write to one never blocks readers of the other.
type Store struct {
	backend backend.Backend
	logger  *slog.Logger

	commitMu sync.RWMutex
	commits  map[models.CommitID]*models.Commit

	treeMu sync.RWMutex
	trees  map[treeKey]*models.Tree
}

// New wraps b. A nil logger uses slog.Default().
func New(b backend.Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: b,
		logger:  logger,
		commits: make(map[models.CommitID]*models.Commit),
		trees:   make(map[treeKey]*models.Tree),
	}
}

func (s *Store) Backend() backend.Backend      { return s.backend }
func (s *Store) RootCommitID() models.CommitID { return s.backend.RootCommitID() }
func (s *Store) RootChangeID() models.ChangeID { return s.backend.RootChangeID() }
func (s *Store) EmptyTreeID() models.TreeID    { return s.backend.EmptyTreeID() }
func (s *Store) Concurrency() int              { return s.backend.Concurrency() }

// RootCommit returns a handle to the root commit.
func (s *Store) RootCommit(ctx context.Context) (*Commit, error) {
	return s.GetCommit(ctx, s.RootCommitID())
}

// GetCommit returns a handle to the commit, reading through the cache.
func (s *Store) GetCommit(ctx context.Context, id models.CommitID) (*Commit, error) {
	data, err := s.readCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Commit{store: s, id: id, data: data}, nil
}

func (s *Store) readCommit(ctx context.Context, id models.CommitID) (*models.Commit, error) {
	s.commitMu.RLock()
	data, ok := s.commits[id]
	s.commitMu.RUnlock()
	if ok {
		cacheHits.WithLabelValues("commit").Inc()
		return data, nil
	}
	cacheMisses.WithLabelValues("commit").Inc()

	data, err := s.backend.ReadCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	s.commitMu.Lock()
	s.commits[id] = data
	s.commitMu.Unlock()
	return data, nil
}

// WriteCommit stores c and caches the result. Commits without parents are
// rejected with backend.ErrNoParents; the root commit is never written.
func (s *Store) WriteCommit(ctx context.Context, c *models.Commit) (*Commit, error) {
	if len(c.Parents) == 0 {
		return nil, backend.ErrNoParents
	}
	id, stored, err := s.backend.WriteCommit(ctx, c)
	if err != nil {
		return nil, err
	}
	objectsWritten.WithLabelValues("commit").Inc()
	s.commitMu.Lock()
	s.commits[id] = stored
	s.commitMu.Unlock()
	return &Commit{store: s, id: id, data: stored}, nil
}

// GetTree returns a handle to the tree at dir, reading through the cache.
func (s *Store) GetTree(ctx context.Context, dir models.RepoPath, id models.TreeID) (*Tree, error) {
	key := treeKey{dir: dir, id: id}
	s.treeMu.RLock()
	data, ok := s.trees[key]
	s.treeMu.RUnlock()
	if ok {
		cacheHits.WithLabelValues("tree").Inc()
		return &Tree{store: s, dir: dir, id: id, data: data}, nil
	}
	cacheMisses.WithLabelValues("tree").Inc()

	data, err := s.backend.ReadTree(ctx, dir, id)
	if err != nil {
		return nil, err
	}
	s.treeMu.Lock()
	s.trees[key] = data
	s.treeMu.Unlock()
	return &Tree{store: s, dir: dir, id: id, data: data}, nil
}

// RootTree returns the tree of a resolved root tree id, or an error for a
// conflicted root.
func (s *Store) RootTree(ctx context.Context, id models.MergedTreeID) (*Tree, error) {
	treeID, ok := id.AsResolved()
	if !ok {
		return nil, fmt.Errorf("root tree is conflicted")
	}
	return s.GetTree(ctx, models.RootPath, treeID)
}

// WriteTree stores the tree and caches it. The caller must not modify the
// tree afterwards.
func (s *Store) WriteTree(ctx context.Context, dir models.RepoPath, tree *models.Tree) (*Tree, error) {
	id, err := s.backend.WriteTree(ctx, dir, tree)
	if err != nil {
		return nil, err
	}
	objectsWritten.WithLabelValues("tree").Inc()
	s.treeMu.Lock()
	s.trees[treeKey{dir: dir, id: id}] = tree
	s.treeMu.Unlock()
	return &Tree{store: s, dir: dir, id: id, data: tree}, nil
}

func (s *Store) ReadFile(ctx context.Context, path models.RepoPath, id models.FileID) ([]byte, error) {
	return s.backend.ReadFile(ctx, path, id)
}

func (s *Store) WriteFile(ctx context.Context, path models.RepoPath, contents []byte) (models.FileID, error) {
	id, err := s.backend.WriteFile(ctx, path, contents)
	if err == nil {
		objectsWritten.WithLabelValues("file").Inc()
	}
	return id, err
}

func (s *Store) ReadSymlink(ctx context.Context, path models.RepoPath, id models.SymlinkID) (string, error) {
	return s.backend.ReadSymlink(ctx, path, id)
}

func (s *Store) WriteSymlink(ctx context.Context, path models.RepoPath, target string) (models.SymlinkID, error) {
	id, err := s.backend.WriteSymlink(ctx, path, target)
	if err == nil {
		objectsWritten.WithLabelValues("symlink").Inc()
	}
	return id, err
}

func (s *Store) ReadConflict(ctx context.Context, path models.RepoPath, id models.ConflictID) (*models.Conflict, error) {
	return s.backend.ReadConflict(ctx, path, id)
}

func (s *Store) WriteConflict(ctx context.Context, path models.RepoPath, c *models.Conflict) (models.ConflictID, error) {
	id, err := s.backend.WriteConflict(ctx, path, c)
	if err == nil {
		objectsWritten.WithLabelValues("conflict").Inc()
	}
	return id, err
}

// GC forwards to the backend and drops the caches, which may now refer to
// deleted objects.
func (s *Store) GC(ctx context.Context, index backend.Index, keepNewer time.Time) error {
	if err := s.backend.GC(ctx, index, keepNewer); err != nil {
		return err
	}
	s.commitMu.Lock()
	s.commits = make(map[models.CommitID]*models.Commit)
	s.commitMu.Unlock()
	s.treeMu.Lock()
	s.trees = make(map[treeKey]*models.Tree)
	s.treeMu.Unlock()
	return nil
}

// TreeBuilder starts a builder on top of base.
func (s *Store) TreeBuilder(base models.TreeID) *TreeBuilder {
	return newTreeBuilder(s, base)
}
