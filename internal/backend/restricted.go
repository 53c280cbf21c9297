package backend

import (
	"context"
	"strings"

	"github.com/kilupskalvis/opvc/internal/models"
)

// Restricted wraps a Backend and refuses to serve content under the given
// path prefixes. Reads return an ObjectError wrapping ErrAccessDenied;
// writes and commits pass through.
type Restricted struct {
	Backend
	denied []models.RepoPath
}

// NewRestricted returns b with reads under any of denied refused.
func NewRestricted(b Backend, denied []models.RepoPath) *Restricted {
	return &Restricted{Backend: b, denied: denied}
}

func (r *Restricted) isDenied(path models.RepoPath) bool {
	for _, d := range r.denied {
		if path == d || strings.HasPrefix(string(path), string(d)+"/") {
			return true
		}
	}
	return false
}

func (r *Restricted) deny(kind ObjectKind, id string, path models.RepoPath) error {
	return &ObjectError{Op: "read", Kind: kind, ID: models.FileID(id).Hex(), Path: path, Err: ErrAccessDenied}
}

func (r *Restricted) ReadFile(ctx context.Context, path models.RepoPath, id models.FileID) ([]byte, error) {
	if r.isDenied(path) {
		return nil, r.deny(KindFile, string(id), path)
	}
	return r.Backend.ReadFile(ctx, path, id)
}

func (r *Restricted) ReadSymlink(ctx context.Context, path models.RepoPath, id models.SymlinkID) (string, error) {
	if r.isDenied(path) {
		return "", r.deny(KindSymlink, string(id), path)
	}
	return r.Backend.ReadSymlink(ctx, path, id)
}

func (r *Restricted) ReadTree(ctx context.Context, dir models.RepoPath, id models.TreeID) (*models.Tree, error) {
	if r.isDenied(dir) {
		return nil, r.deny(KindTree, string(id), dir)
	}
	return r.Backend.ReadTree(ctx, dir, id)
}

func (r *Restricted) ReadConflict(ctx context.Context, path models.RepoPath, id models.ConflictID) (*models.Conflict, error) {
	if r.isDenied(path) {
		return nil, r.deny(KindConflict, string(id), path)
	}
	return r.Backend.ReadConflict(ctx, path, id)
}
