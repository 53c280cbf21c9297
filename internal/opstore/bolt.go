package opstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/opvc/internal/models"
)

// BoltName is the op store type name in the repository config.
const BoltName = "bolt"

// BoltFileName is the database file inside the op store directory.
const BoltFileName = "ops.db"

// boltKV keeps operations and views in two buckets of one bbolt file. The
// file is opened for each call only: bbolt holds an exclusive flock while a
// writable handle is open, and the op-heads lock must stay the only point
// where concurrent processes wait for each other.
type boltKV struct {
	path    string
	timeout time.Duration
}

// OpenBolt opens or creates a bbolt op store in dir.
func OpenBolt(dir string, rootCommitID models.CommitID, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create op store directory: %w", err)
	}

	k := &boltKV{path: filepath.Join(dir, BoltFileName), timeout: 10 * time.Second}
	// Create buckets
	if err := k.update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketOperations, bucketViews} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return newStore(BoltName, k, rootCommitID, logger), nil
}

func (k *boltKV) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(k.path, 0600, &bolt.Options{Timeout: k.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open op store database: %w", err)
	}
	return db, nil
}

func (k *boltKV) view(fn func(tx *bolt.Tx) error) error {
	db, err := k.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (k *boltKV) update(fn func(tx *bolt.Tx) error) error {
	db, err := k.open(false)
	if err != nil {
		return err
	}
	if err := db.Update(fn); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func (k *boltKV) get(_ context.Context, bucket string, key []byte) ([]byte, error) {
	var out []byte
	err := k.view(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		// bbolt values are only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// put inserts the record unless the key already exists. Ids are content
// hashes, so an existing record is identical.
func (k *boltKV) put(_ context.Context, bucket string, key, value []byte) error {
	return k.update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b.Get(key) != nil {
			return nil
		}
		return b.Put(key, value)
	})
}

func (k *boltKV) seek(_ context.Context, bucket string, start []byte, fn func(key []byte) bool) error {
	return k.view(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for key, _ := c.Seek(start); key != nil; key, _ = c.Next() {
			if !fn(bytes.Clone(key)) {
				return nil
			}
		}
		return nil
	})
}

func (k *boltKV) list(ctx context.Context, bucket string, fn func(key, value []byte) error) error {
	return k.view(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(key, value []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(key, value)
		})
	})
}

func (k *boltKV) delete(_ context.Context, bucket string, keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	return k.update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		for _, key := range keys {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("delete %x: %w", key, err)
			}
		}
		return nil
	})
}

func (k *boltKV) close() error { return nil }
