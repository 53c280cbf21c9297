package opstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kilupskalvis/opvc/internal/models"
)

// Factory opens an op store in dir. rootCommitID seeds the root view.
type Factory func(ctx context.Context, dir string, rootCommitID models.CommitID, logger *slog.Logger) (OpStore, error)

var factories = map[string]Factory{
	BoltName: func(_ context.Context, dir string, root models.CommitID, logger *slog.Logger) (OpStore, error) {
		return OpenBolt(dir, root, logger)
	},
	MemoryName: func(_ context.Context, _ string, root models.CommitID, logger *slog.Logger) (OpStore, error) {
		return NewMemory(root, logger), nil
	},
}

// Open opens an op store of the named type.
func Open(ctx context.Context, name, dir string, rootCommitID models.CommitID, logger *slog.Logger) (OpStore, error) {
	f, ok := factories[name]
	if !ok {
		names := make([]string, 0, len(factories))
		for n := range factories {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown op store type %q (have %v)", name, names)
	}
	return f(ctx, dir, rootCommitID, logger)
}
