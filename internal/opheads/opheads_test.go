package opheads

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/opvc/internal/models"
)

func opID(b byte) models.OperationID {
	id := make([]byte, 64)
	id[0] = b
	return models.OperationID(id)
}

func newTestStores(t *testing.T) map[string]OpHeadsStore {
	t.Helper()
	simple, err := InitSimple(context.Background(), t.TempDir(), opID(0), nil)
	require.NoError(t, err)
	return map[string]OpHeadsStore{
		"simple": simple,
		"memory": NewMemory(opID(0), nil),
	}
}

func TestStore_AddRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			heads, err := s.GetOpHeads(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.OperationID{opID(0)}, heads)

			require.NoError(t, s.AddOpHead(ctx, opID(2)))
			require.NoError(t, s.AddOpHead(ctx, opID(1)))
			require.NoError(t, s.AddOpHead(ctx, opID(1)))
			heads, err = s.GetOpHeads(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.OperationID{opID(0), opID(1), opID(2)}, heads)

			require.NoError(t, s.RemoveOpHead(ctx, opID(1)))
			// Removing a head that is already gone is not an error.
			require.NoError(t, s.RemoveOpHead(ctx, opID(1)))
			heads, err = s.GetOpHeads(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.OperationID{opID(0), opID(2)}, heads)
		})
	}
}

func TestStore_PromoteNewOp(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			before := testutil.ToFloat64(promotions)
			g, err := s.Lock(ctx)
			require.NoError(t, err)
			require.NoError(t, g.PromoteNewOp(ctx, opID(1), &models.Operation{Parents: []models.OperationID{opID(0)}}))
			require.NoError(t, g.Unlock())
			assert.Equal(t, before+1, testutil.ToFloat64(promotions))

			heads, err := s.GetOpHeads(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.OperationID{opID(1)}, heads)
		})
	}
}

func TestStore_PromoteSelfParentPanics(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(opID(0), nil)
	g, err := s.Lock(ctx)
	require.NoError(t, err)
	defer g.Unlock()
	assert.Panics(t, func() {
		_ = g.PromoteNewOp(ctx, opID(1), &models.Operation{Parents: []models.OperationID{opID(1)}})
	})
}

// Two writers based on the same head both keep their work.
func TestStore_PromotionRace(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			base := &models.Operation{Parents: []models.OperationID{opID(0)}}
			var wg sync.WaitGroup
			for _, id := range []models.OperationID{opID(1), opID(2)} {
				wg.Add(1)
				go func(id models.OperationID) {
					defer wg.Done()
					g, err := s.Lock(ctx)
					if !assert.NoError(t, err) {
						return
					}
					defer g.Unlock()
					assert.NoError(t, g.PromoteNewOp(ctx, id, base))
				}(id)
			}
			wg.Wait()

			heads, err := s.GetOpHeads(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.OperationID{opID(1), opID(2)}, heads)
		})
	}
}

func TestSimpleStore_IgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := InitSimple(ctx, dir, opID(0), nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "heads", "lock"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "heads", ".tmp"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "heads", "not-hex"), nil, 0o600))

	heads, err := s.GetOpHeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.OperationID{opID(0)}, heads)

	reloaded, err := Open(ctx, SimpleName, dir, nil)
	require.NoError(t, err)
	heads, err = reloaded.GetOpHeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.OperationID{opID(0)}, heads)
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := Open(context.Background(), "nope", t.TempDir(), nil)
	assert.Error(t, err)
	_, err = Init(context.Background(), "nope", t.TempDir(), opID(0), nil)
	assert.Error(t, err)
}
