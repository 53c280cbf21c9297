package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory opens (or initializes) a backend rooted at dir.
type Factory func(ctx context.Context, dir string, logger *slog.Logger) (Backend, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register makes a backend type available by name. Implementations call it
// from init and panic on duplicate names.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	factories[name] = f
}

// Open opens a backend of the named type.
func Open(ctx context.Context, name, dir string, logger *slog.Logger) (Backend, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q (have %v)", name, Registered())
	}
	return f(ctx, dir, logger)
}

// Registered returns the registered backend names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
