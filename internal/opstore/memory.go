package opstore

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/kilupskalvis/opvc/internal/models"
)

// MemoryName is the in-memory op store type name.
const MemoryName = "memory"

type memoryKV struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemory returns an op store that lives only in memory.
func NewMemory(rootCommitID models.CommitID, logger *slog.Logger) *Store {
	kv := &memoryKV{buckets: map[string]map[string][]byte{
		bucketOperations: {},
		bucketViews:      {},
	}}
	return newStore(MemoryName, kv, rootCommitID, logger)
}

func (k *memoryKV) get(_ context.Context, bucket string, key []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.buckets[bucket][string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (k *memoryKV) put(_ context.Context, bucket string, key, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.buckets[bucket][string(key)]; !ok {
		k.buckets[bucket][string(key)] = bytes.Clone(value)
	}
	return nil
}

func (k *memoryKV) sortedKeys(bucket string) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := make([]string, 0, len(k.buckets[bucket]))
	for key := range k.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (k *memoryKV) seek(_ context.Context, bucket string, start []byte, fn func(key []byte) bool) error {
	keys := k.sortedKeys(bucket)
	i := sort.SearchStrings(keys, string(start))
	for ; i < len(keys); i++ {
		if !fn([]byte(keys[i])) {
			break
		}
	}
	return nil
}

func (k *memoryKV) list(ctx context.Context, bucket string, fn func(key, value []byte) error) error {
	for _, key := range k.sortedKeys(bucket) {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := k.get(ctx, bucket, []byte(key))
		if err != nil {
			continue
		}
		if err := fn([]byte(key), value); err != nil {
			return err
		}
	}
	return nil
}

func (k *memoryKV) delete(_ context.Context, bucket string, keys [][]byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		delete(k.buckets[bucket], string(key))
	}
	return nil
}

func (k *memoryKV) close() error { return nil }
