// Package repo ties the object store, the operation log and the head set
// together: loading a repo at an operation, mutating its view in a
// transaction, and merging concurrent operations.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sort"
	"time"

	"github.com/kilupskalvis/opvc/internal/models"
	"github.com/kilupskalvis/opvc/internal/opheads"
	"github.com/kilupskalvis/opvc/internal/opstore"
	"github.com/kilupskalvis/opvc/internal/store"
)

var (
	// ErrMergeAncestorNotFound means two operations share no ancestor, which
	// only happens with a corrupt or foreign operation log.
	ErrMergeAncestorNotFound = errors.New("no common ancestor operation")

	// ErrCommitNotFound is returned when a view refers to a missing commit.
	ErrCommitNotFound = errors.New("commit not found")
)

// Settings carries the user identity and host information recorded on
// commits and operations.
type Settings struct {
	UserName  string
	UserEmail string
	Hostname  string
	Username  string
	// RandomnessSeed makes change ids reproducible when set.
	RandomnessSeed *int64
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultSettings fills host and user from the environment.
func DefaultSettings() Settings {
	s := Settings{}
	if h, err := os.Hostname(); err == nil {
		s.Hostname = h
	}
	if u, err := user.Current(); err == nil {
		s.Username = u.Username
	}
	return s
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Settings) signature() models.Signature {
	return models.Signature{
		Name:      s.UserName,
		Email:     s.UserEmail,
		Timestamp: models.TimestampFromTime(s.now()),
	}
}

// Operation is a loaded operation record.
type Operation struct {
	id   models.OperationID
	data *models.Operation
}

func (o *Operation) ID() models.OperationID             { return o.id }
func (o *Operation) Data() *models.Operation            { return o.data }
func (o *Operation) Parents() []models.OperationID      { return o.data.Parents }
func (o *Operation) Metadata() models.OperationMetadata { return o.data.Metadata }

// ReadonlyRepo is the repository as of one operation. It is immutable;
// changes go through StartTransaction.
type ReadonlyRepo struct {
	loader *RepoLoader
	op     *Operation
	view   *models.View
}

func (r *ReadonlyRepo) Store() *store.Store                { return r.loader.store }
func (r *ReadonlyRepo) OpStore() opstore.OpStore           { return r.loader.opStore }
func (r *ReadonlyRepo) OpHeadsStore() opheads.OpHeadsStore { return r.loader.opHeads }
func (r *ReadonlyRepo) Index() *Index                      { return r.loader.index }
func (r *ReadonlyRepo) Loader() *RepoLoader                { return r.loader }
func (r *ReadonlyRepo) Operation() *Operation              { return r.op }
func (r *ReadonlyRepo) Settings() Settings                 { return r.loader.settings }

// View returns the repo's view. Callers must not modify it.
func (r *ReadonlyRepo) View() *models.View { return r.view }

// StartTransaction begins a transaction based on this repo's operation.
func (r *ReadonlyRepo) StartTransaction() *Transaction {
	return newTransaction(r)
}

// ReloadAtHead loads the repo at the current head operation.
func (r *ReadonlyRepo) ReloadAtHead(ctx context.Context) (*ReadonlyRepo, error) {
	return r.loader.LoadAtHead(ctx)
}

// ReadOperation loads an operation from the op store.
func (l *RepoLoader) ReadOperation(ctx context.Context, id models.OperationID) (*Operation, error) {
	data, err := l.opStore.ReadOperation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read operation %s: %w", id.Short(), err)
	}
	return &Operation{id: id, data: data}, nil
}

// ReadView loads op's view.
func (l *RepoLoader) ReadView(ctx context.Context, op *Operation) (*models.View, error) {
	view, err := l.opStore.ReadView(ctx, op.data.ViewID)
	if err != nil {
		return nil, fmt.Errorf("read view of operation %s: %w", op.id.Short(), err)
	}
	return view, nil
}

func (l *RepoLoader) operationParents(ctx context.Context, op *Operation) ([]*Operation, error) {
	out := make([]*Operation, 0, len(op.data.Parents))
	for _, id := range op.data.Parents {
		p, err := l.ReadOperation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func operationID(op *Operation) models.OperationID { return op.id }

func sortedCommitIDs(set map[models.CommitID]struct{}) []models.CommitID {
	out := make([]models.CommitID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
