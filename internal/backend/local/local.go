// Package local implements the native file-per-object backend. Every object
// lives in a directory for its kind, named by the base32 CIDv1 of its
// BLAKE2b-512 id.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	"github.com/kilupskalvis/opvc/internal/backend"
)

// Name is the backend type name in the repository config.
const Name = "local"

func init() {
	backend.Register(Name, func(_ context.Context, dir string, logger *slog.Logger) (backend.Backend, error) {
		return Open(dir, logger)
	})
}

var kindDirs = map[backend.ObjectKind]string{
	backend.KindCommit:   "commits",
	backend.KindTree:     "trees",
	backend.KindFile:     "files",
	backend.KindSymlink:  "symlinks",
	backend.KindConflict: "conflicts",
}

// FSStore implements backend.ObjectStore on the local filesystem.
type FSStore struct {
	root string
}

// NewFSStore creates the kind directories under root.
func NewFSStore(root string) (*FSStore, error) {
	for _, sub := range kindDirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("create object dir: %w", err)
		}
	}
	return &FSStore{root: root}, nil
}

// Open returns a backend over an FSStore at dir.
func Open(dir string, logger *slog.Logger) (*backend.ObjectBackend, error) {
	s, err := NewFSStore(dir)
	if err != nil {
		return nil, err
	}
	return backend.NewObjectBackend(Name, s, logger), nil
}

// ObjectName returns the file name for an id: multibase base32 of a raw
// CIDv1 wrapping the id as a blake2b-512 multihash.
func ObjectName(id []byte) (string, error) {
	mh, err := multihash.Encode(id, multihash.BLAKE2B_MAX)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	return multibase.Encode(multibase.Base32, c.Bytes())
}

// ParseObjectName recovers the id from a file name produced by ObjectName.
func ParseObjectName(name string) ([]byte, error) {
	_, raw, err := multibase.Decode(name)
	if err != nil {
		return nil, fmt.Errorf("decode object name: %w", err)
	}
	c, err := gocid.Cast(raw)
	if err != nil {
		return nil, fmt.Errorf("decode object cid: %w", err)
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("decode object multihash: %w", err)
	}
	if decoded.Code != multihash.BLAKE2B_MAX {
		return nil, fmt.Errorf("unexpected hash function 0x%x in %s", decoded.Code, name)
	}
	return decoded.Digest, nil
}

func (s *FSStore) objectPath(kind backend.ObjectKind, id []byte) (string, error) {
	sub, ok := kindDirs[kind]
	if !ok {
		return "", fmt.Errorf("unknown object kind %q", kind)
	}
	name, err := ObjectName(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, sub, name), nil
}

func (s *FSStore) Get(_ context.Context, kind backend.ObjectKind, id []byte) ([]byte, error) {
	path, err := s.objectPath(kind, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, backend.ErrNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", backend.ErrAccessDenied, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Put writes data unless the object already exists.
func (s *FSStore) Put(_ context.Context, kind backend.ObjectKind, id []byte, data []byte) error {
	path, err := s.objectPath(kind, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeAtomic(path, data, 0644)
}

// List walks the kind's directory. Temp files and names that do not decode
// are skipped.
func (s *FSStore) List(ctx context.Context, kind backend.ObjectKind, fn func(id []byte, created time.Time) error) error {
	sub, ok := kindDirs[kind]
	if !ok {
		return fmt.Errorf("unknown object kind %q", kind)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, sub))
	if err != nil {
		return fmt.Errorf("list %s: %w", sub, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		id, err := ParseObjectName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		if err := fn(id, info.ModTime()); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an object. Missing objects are not an error.
func (s *FSStore) Delete(_ context.Context, kind backend.ObjectKind, id []byte) error {
	path, err := s.objectPath(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *FSStore) Concurrency() int { return runtime.NumCPU() }

func (s *FSStore) Close() error { return nil }

// writeAtomic writes data to path through a temp file in the same
// directory: write, fsync, rename.
func writeAtomic(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp to target: %w", err)
	}
	return nil
}
