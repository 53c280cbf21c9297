package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/kilupskalvis/opvc/internal/contenthash"
	"github.com/kilupskalvis/opvc/internal/models"
)

// ObjectStore is raw keyed storage for encoded objects. Implementations
// return ErrNotFound from Get for missing keys and treat Put of an existing
// key as a no-op.
type ObjectStore interface {
	Get(ctx context.Context, kind ObjectKind, id []byte) ([]byte, error)
	Put(ctx context.Context, kind ObjectKind, id []byte, data []byte) error
	// List calls fn for every stored object of kind with its creation time.
	List(ctx context.Context, kind ObjectKind, fn func(id []byte, created time.Time) error) error
	Delete(ctx context.Context, kind ObjectKind, id []byte) error
	Concurrency() int
	Close() error
}

// ObjectBackend implements Backend over an ObjectStore. Commits, trees and
// conflicts are stored as JSON and named by their content hash; files and
// symlinks are stored raw and named by the BLAKE2b-512 of their bytes.
type ObjectBackend struct {
	name         string
	objects      ObjectStore
	logger       *slog.Logger
	rootCommitID models.CommitID
	rootChangeID models.ChangeID
	emptyTreeID  models.TreeID
}

// NewObjectBackend wraps objects. A nil logger uses slog.Default().
func NewObjectBackend(name string, objects ObjectStore, logger *slog.Logger) *ObjectBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectBackend{
		name:         name,
		objects:      objects,
		logger:       logger,
		rootCommitID: models.CommitID(make([]byte, CommitIDLength)),
		rootChangeID: models.ChangeID(make([]byte, ChangeIDLength)),
		emptyTreeID:  models.TreeID(contenthash.Sum(models.NewTree())),
	}
}

func (b *ObjectBackend) Name() string                  { return b.name }
func (b *ObjectBackend) RootCommitID() models.CommitID { return b.rootCommitID }
func (b *ObjectBackend) RootChangeID() models.ChangeID { return b.rootChangeID }
func (b *ObjectBackend) EmptyTreeID() models.TreeID    { return b.emptyTreeID }
func (b *ObjectBackend) Concurrency() int              { return b.objects.Concurrency() }
func (b *ObjectBackend) Close() error                  { return b.objects.Close() }

// Objects returns the underlying store.
func (b *ObjectBackend) Objects() ObjectStore { return b.objects }

// RootCommit returns the synthetic root commit.
func (b *ObjectBackend) RootCommit() *models.Commit {
	return &models.Commit{
		RootTree: models.ResolvedTree(b.emptyTreeID),
		ChangeID: b.rootChangeID,
	}
}

func objectErr(op string, kind ObjectKind, id []byte, path models.RepoPath, err error) error {
	return &ObjectError{Op: op, Kind: kind, ID: fmt.Sprintf("%x", id), Path: path, Err: err}
}

func (b *ObjectBackend) get(ctx context.Context, kind ObjectKind, id []byte, path models.RepoPath) ([]byte, error) {
	data, err := b.objects.Get(ctx, kind, id)
	if err != nil {
		return nil, objectErr("read", kind, id, path, err)
	}
	return data, nil
}

func (b *ObjectBackend) put(ctx context.Context, kind ObjectKind, id, data []byte, path models.RepoPath) error {
	if err := b.objects.Put(ctx, kind, id, data); err != nil {
		return objectErr("write", kind, id, path, err)
	}
	return nil
}

func (b *ObjectBackend) ReadFile(ctx context.Context, path models.RepoPath, id models.FileID) ([]byte, error) {
	return b.get(ctx, KindFile, []byte(id), path)
}

func (b *ObjectBackend) WriteFile(ctx context.Context, path models.RepoPath, contents []byte) (models.FileID, error) {
	sum := blake2b.Sum512(contents)
	if err := b.put(ctx, KindFile, sum[:], contents, path); err != nil {
		return "", err
	}
	return models.FileID(sum[:]), nil
}

func (b *ObjectBackend) ReadSymlink(ctx context.Context, path models.RepoPath, id models.SymlinkID) (string, error) {
	data, err := b.get(ctx, KindSymlink, []byte(id), path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *ObjectBackend) WriteSymlink(ctx context.Context, path models.RepoPath, target string) (models.SymlinkID, error) {
	sum := blake2b.Sum512([]byte(target))
	if err := b.put(ctx, KindSymlink, sum[:], []byte(target), path); err != nil {
		return "", err
	}
	return models.SymlinkID(sum[:]), nil
}

func (b *ObjectBackend) ReadTree(ctx context.Context, dir models.RepoPath, id models.TreeID) (*models.Tree, error) {
	if id == b.emptyTreeID {
		return models.NewTree(), nil
	}
	data, err := b.get(ctx, KindTree, []byte(id), dir)
	if err != nil {
		return nil, err
	}
	tree := models.NewTree()
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, objectErr("read", KindTree, []byte(id), dir, fmt.Errorf("decode: %w", err))
	}
	if tree.Entries == nil {
		tree.Entries = make(map[string]models.TreeValue)
	}
	return tree, nil
}

func (b *ObjectBackend) WriteTree(ctx context.Context, dir models.RepoPath, tree *models.Tree) (models.TreeID, error) {
	id := contenthash.Sum(tree)
	data, err := json.Marshal(tree)
	if err != nil {
		return "", objectErr("write", KindTree, id, dir, fmt.Errorf("encode: %w", err))
	}
	if err := b.put(ctx, KindTree, id, data, dir); err != nil {
		return "", err
	}
	return models.TreeID(id), nil
}

func (b *ObjectBackend) ReadConflict(ctx context.Context, path models.RepoPath, id models.ConflictID) (*models.Conflict, error) {
	data, err := b.get(ctx, KindConflict, []byte(id), path)
	if err != nil {
		return nil, err
	}
	var c models.Conflict
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, objectErr("read", KindConflict, []byte(id), path, fmt.Errorf("decode: %w", err))
	}
	return &c, nil
}

func (b *ObjectBackend) WriteConflict(ctx context.Context, path models.RepoPath, c *models.Conflict) (models.ConflictID, error) {
	id := contenthash.Sum(c)
	data, err := json.Marshal(c)
	if err != nil {
		return "", objectErr("write", KindConflict, id, path, fmt.Errorf("encode: %w", err))
	}
	if err := b.put(ctx, KindConflict, id, data, path); err != nil {
		return "", err
	}
	return models.ConflictID(id), nil
}

func (b *ObjectBackend) ReadCommit(ctx context.Context, id models.CommitID) (*models.Commit, error) {
	if id == b.rootCommitID {
		return b.RootCommit(), nil
	}
	data, err := b.get(ctx, KindCommit, []byte(id), models.RootPath)
	if err != nil {
		return nil, err
	}
	var c models.Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, objectErr("read", KindCommit, []byte(id), models.RootPath, fmt.Errorf("decode: %w", err))
	}
	return &c, nil
}

func (b *ObjectBackend) WriteCommit(ctx context.Context, c *models.Commit) (models.CommitID, *models.Commit, error) {
	if len(c.Parents) == 0 {
		return "", nil, ErrNoParents
	}
	stored := c.Clone()
	id := contenthash.Sum(stored)
	data, err := json.Marshal(stored)
	if err != nil {
		return "", nil, objectErr("write", KindCommit, id, models.RootPath, fmt.Errorf("encode: %w", err))
	}
	if err := b.put(ctx, KindCommit, id, data, models.RootPath); err != nil {
		return "", nil, err
	}
	return models.CommitID(id), stored, nil
}

// GC marks every object reachable from index and sweeps the rest, keeping
// anything created at or after keepNewer.
func (b *ObjectBackend) GC(ctx context.Context, index Index, keepNewer time.Time) error {
	heads, err := index.AllHeads(ctx)
	if err != nil {
		return fmt.Errorf("list heads: %w", err)
	}
	live, err := Mark(ctx, b, heads)
	if err != nil {
		return fmt.Errorf("mark reachable objects: %w", err)
	}

	var scanned, deleted int
	for _, kind := range AllKinds {
		var garbage [][]byte
		err := b.objects.List(ctx, kind, func(id []byte, created time.Time) error {
			scanned++
			if live.Has(kind, id) || !created.Before(keepNewer) {
				return nil
			}
			garbage = append(garbage, append([]byte(nil), id...))
			return nil
		})
		if err != nil {
			return fmt.Errorf("list %s objects: %w", kind, err)
		}
		for _, id := range garbage {
			if err := b.objects.Delete(ctx, kind, id); err != nil {
				b.logger.Warn("gc: failed to delete object", "kind", kind, "id", fmt.Sprintf("%x", id), "error", err)
				continue
			}
			deleted++
		}
	}

	b.logger.Info("gc complete",
		"backend", b.name,
		"scanned", scanned,
		"live", live.Len(),
		"deleted", deleted,
	)
	return nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
