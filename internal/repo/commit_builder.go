package repo

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/store"
)

// CommitBuilder assembles a commit and writes it into a MutableRepo.
type CommitBuilder struct {
	mut      *MutableRepo
	commit   models.Commit
	rewrites *store.Commit
	newID    bool
}

func newCommitBuilder(m *MutableRepo, parents []models.CommitID, tree models.MergedTreeID) *CommitBuilder {
	sig := m.base.Settings().signature()
	return &CommitBuilder{
		mut: m,
		commit: models.Commit{
			Parents:   append([]models.CommitID(nil), parents...),
			RootTree:  tree,
			Author:    sig,
			Committer: sig,
		},
		newID: true,
	}
}

func rewriteCommitBuilder(m *MutableRepo, old *store.Commit) *CommitBuilder {
	c := old.Data().Clone()
	c.Predecessors = []models.CommitID{old.ID()}
	c.Committer = m.base.Settings().signature()
	return &CommitBuilder{mut: m, commit: *c, rewrites: old}
}

func (b *CommitBuilder) SetParents(parents []models.CommitID) *CommitBuilder {
	b.commit.Parents = append([]models.CommitID(nil), parents...)
	return b
}

func (b *CommitBuilder) SetTree(tree models.MergedTreeID) *CommitBuilder {
	b.commit.RootTree = tree
	return b
}

func (b *CommitBuilder) SetDescription(description string) *CommitBuilder {
	b.commit.Description = description
	return b
}

func (b *CommitBuilder) SetAuthor(sig models.Signature) *CommitBuilder {
	b.commit.Author = sig
	return b
}

// SetPredecessors overrides the recorded predecessors.
func (b *CommitBuilder) SetPredecessors(ids []models.CommitID) *CommitBuilder {
	b.commit.Predecessors = append([]models.CommitID(nil), ids...)
	return b
}

// GenerateNewChangeID gives a rewrite its own change id, which makes it a
// new change rather than a new version of the old one.
func (b *CommitBuilder) GenerateNewChangeID() *CommitBuilder {
	b.newID = true
	return b
}

// Write stores the commit and makes it a head. A rewrite that kept its
// change id records the old commit as rewritten.
func (b *CommitBuilder) Write(ctx context.Context) (*store.Commit, error) {
	c := b.commit
	if b.newID {
		id, err := b.mut.base.loader.changeIDs.Next()
		if err != nil {
			return nil, err
		}
		c.ChangeID = id
	}
	written, err := b.mut.Store().WriteCommit(ctx, &c)
	if err != nil {
		return nil, fmt.Errorf("write commit: %w", err)
	}
	if err := b.mut.AddHead(ctx, written.ID()); err != nil {
		return nil, err
	}
	if b.rewrites != nil && !b.newID && b.rewrites.ID() != written.ID() {
		b.mut.RecordRewrittenCommit(b.rewrites.ID(), written.ID())
	}
	return written, nil
}
