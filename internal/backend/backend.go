// Package backend defines the contract for physical storage of commits,
// trees, files, symlinks and conflicts, plus the error taxonomy shared by
// every implementation.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/opvc/internal/models"
)

// Lengths of ids produced by every backend in this module.
const (
	CommitIDLength = 64
	ChangeIDLength = 16
)

var (
	// ErrNotFound is returned when a requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied is returned when the backend refuses to serve an object.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoParents is returned when writing a commit without parents. Only
	// the root commit has none, and it is never written.
	ErrNoParents = errors.New("cannot write a commit with no parents")
)

// ObjectKind names a kind of stored object.
type ObjectKind string

const (
	KindCommit   ObjectKind = "commit"
	KindTree     ObjectKind = "tree"
	KindFile     ObjectKind = "file"
	KindSymlink  ObjectKind = "symlink"
	KindConflict ObjectKind = "conflict"
)

// AllKinds lists the object kinds in the order GC sweeps them.
var AllKinds = []ObjectKind{KindCommit, KindTree, KindFile, KindSymlink, KindConflict}

// ObjectError tags a backend failure with the object being accessed.
type ObjectError struct {
	Op   string // "read" or "write"
	Kind ObjectKind
	ID   string // hex
	Path models.RepoPath
	Err  error
}

func (e *ObjectError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.ID != "" {
		msg += " " + shortHex(e.ID)
	}
	if !e.Path.IsRoot() {
		msg += fmt.Sprintf(" at %q", e.Path.String())
	}
	return msg + ": " + e.Err.Error()
}

func (e *ObjectError) Unwrap() error { return e.Err }

func shortHex(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

// Index lists the commits GC must keep. Their ancestors, trees and the
// objects those trees refer to are kept as well.
type Index interface {
	AllHeads(ctx context.Context) ([]models.CommitID, error)
}

// Backend stores content-addressed objects. Implementations must tolerate
// concurrent readers and writers: identical content always maps to the same
// id, so racing writes of one key are no-ops.
type Backend interface {
	// Name identifies the backend type in the repository config.
	Name() string

	RootCommitID() models.CommitID
	RootChangeID() models.ChangeID
	EmptyTreeID() models.TreeID

	// Concurrency reports how many backend calls may safely run at once.
	Concurrency() int

	ReadFile(ctx context.Context, path models.RepoPath, id models.FileID) ([]byte, error)
	WriteFile(ctx context.Context, path models.RepoPath, contents []byte) (models.FileID, error)
	ReadSymlink(ctx context.Context, path models.RepoPath, id models.SymlinkID) (string, error)
	WriteSymlink(ctx context.Context, path models.RepoPath, target string) (models.SymlinkID, error)
	ReadTree(ctx context.Context, dir models.RepoPath, id models.TreeID) (*models.Tree, error)
	WriteTree(ctx context.Context, dir models.RepoPath, tree *models.Tree) (models.TreeID, error)
	ReadConflict(ctx context.Context, path models.RepoPath, id models.ConflictID) (*models.Conflict, error)
	WriteConflict(ctx context.Context, path models.RepoPath, c *models.Conflict) (models.ConflictID, error)
	ReadCommit(ctx context.Context, id models.CommitID) (*models.Commit, error)
	// WriteCommit stores c and returns its id along with the commit as
	// stored, which may differ from c (for example once signed).
	WriteCommit(ctx context.Context, c *models.Commit) (models.CommitID, *models.Commit, error)

	// GC deletes objects unreachable from index that were created before
	// keepNewer.
	GC(ctx context.Context, index Index, keepNewer time.Time) error

	Close() error
}
