package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/kilupskalvis/opvc/internal/backend"
)

func TestObjectName_RoundTrip(t *testing.T) {
	sum := blake2b.Sum512([]byte("content"))
	name, err := ObjectName(sum[:])
	require.NoError(t, err)
	// multibase prefix for base32 lower
	assert.True(t, strings.HasPrefix(name, "b"), name)

	id, err := ParseObjectName(name)
	require.NoError(t, err)
	assert.Equal(t, sum[:], id)

	_, err = ParseObjectName("!notacid")
	assert.Error(t, err)
}

func TestFSStore_PutIsIdempotentAndListSkipsTemp(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFSStore(root)
	require.NoError(t, err)

	sum := blake2b.Sum512([]byte("x"))
	require.NoError(t, s.Put(ctx, backend.KindFile, sum[:], []byte("x")))
	require.NoError(t, s.Put(ctx, backend.KindFile, sum[:], []byte("ignored")))

	data, err := s.Get(ctx, backend.KindFile, sum[:])
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	// Leftover temp files are not objects.
	require.NoError(t, os.WriteFile(filepath.Join(root, "files", ".tmp-123"), []byte("junk"), 0644))

	var listed [][]byte
	require.NoError(t, s.List(ctx, backend.KindFile, func(id []byte, _ time.Time) error {
		listed = append(listed, id)
		return nil
	}))
	assert.Equal(t, [][]byte{sum[:]}, listed)

	require.NoError(t, s.Delete(ctx, backend.KindFile, sum[:]))
	require.NoError(t, s.Delete(ctx, backend.KindFile, sum[:]))
	_, err = s.Get(ctx, backend.KindFile, sum[:])
	assert.ErrorIs(t, err, backend.ErrNotFound)
}
