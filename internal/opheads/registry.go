package opheads

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kilupskalvis/opvc/internal/models"
)

// Factory opens an existing store in dir.
type Factory func(ctx context.Context, dir string, logger *slog.Logger) (OpHeadsStore, error)

// Initializer creates a new store in dir with root as its only head.
type Initializer func(ctx context.Context, dir string, root models.OperationID, logger *slog.Logger) (OpHeadsStore, error)

var factories = map[string]struct {
	open   Factory
	create Initializer
}{
	SimpleName: {
		open: func(_ context.Context, dir string, logger *slog.Logger) (OpHeadsStore, error) {
			return LoadSimple(dir, logger), nil
		},
		create: func(ctx context.Context, dir string, root models.OperationID, logger *slog.Logger) (OpHeadsStore, error) {
			return InitSimple(ctx, dir, root, logger)
		},
	},
}

func lookup(name string) (Factory, Initializer, error) {
	f, ok := factories[name]
	if !ok {
		names := make([]string, 0, len(factories))
		for n := range factories {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, nil, fmt.Errorf("unknown op heads store type %q (have %v)", name, names)
	}
	return f.open, f.create, nil
}

// Open opens a store of the named type.
func Open(ctx context.Context, name, dir string, logger *slog.Logger) (OpHeadsStore, error) {
	open, _, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return open(ctx, dir, logger)
}

// Init creates a store of the named type.
func Init(ctx context.Context, name, dir string, root models.OperationID, logger *slog.Logger) (OpHeadsStore, error) {
	_, create, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return create(ctx, dir, root, logger)
}
