package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/repo"
	"github.com/kilupskalvis/opvc/internal/store"
)

// resolveRevision resolves "@" (the working-copy commit), "root", a local
// bookmark, a tag or a full hex commit id. Each trailing "-" steps to the
// first parent.
func resolveRevision(ctx context.Context, r *repo.ReadonlyRepo, workspace models.WorkspaceID, rev string) (*store.Commit, error) {
	name := strings.TrimRight(rev, "-")
	steps := len(rev) - len(name)

	id, err := resolveName(r, workspace, name)
	if err != nil {
		return nil, err
	}
	commit, err := r.Store().GetCommit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("revision %q: %w", rev, err)
	}
	for i := 0; i < steps; i++ {
		if commit.IsRoot() {
			return nil, fmt.Errorf("revision %q: the root commit has no parents", rev)
		}
		commit, err = r.Store().GetCommit(ctx, commit.Parents()[0])
		if err != nil {
			return nil, fmt.Errorf("revision %q: %w", rev, err)
		}
	}
	return commit, nil
}

func resolveName(r *repo.ReadonlyRepo, workspace models.WorkspaceID, name string) (models.CommitID, error) {
	view := r.View()
	switch name {
	case "@":
		id, ok := view.WCCommitIDs[workspace]
		if !ok {
			return "", fmt.Errorf("workspace %q has no working-copy commit", workspace)
		}
		return id, nil
	case "root":
		return r.Store().RootCommitID(), nil
	}
	for kind, target := range map[string]models.RefTarget{"bookmark": view.LocalBookmark(name), "tag": view.Tag(name)} {
		if target.IsAbsent() {
			continue
		}
		id, ok := target.AsNormal()
		if !ok {
			return "", fmt.Errorf("%s %q is conflicted", kind, name)
		}
		return id, nil
	}
	id, err := models.CommitIDFromHex(name)
	if err != nil || len(id) != len(r.Store().RootCommitID()) {
		return "", fmt.Errorf("revision %q not found", name)
	}
	return id, nil
}
