// Package opstore persists Operation and View records. It holds no merge
// logic; the operation DAG is interpreted by the repo package.
package opstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kilupskalvis/opvc/internal/contenthash"
	"github.com/kilupskalvis/opvc/internal/models"
)

// IDLength is the length of operation and view ids.
const IDLength = contenthash.Size

var (
	// ErrNotFound is returned when an operation or view does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousPrefix is returned when a hex prefix matches several operations.
	ErrAmbiguousPrefix = errors.New("ambiguous operation id prefix")

	// ErrNoParents is returned when writing an operation without parents.
	ErrNoParents = errors.New("cannot write an operation without parents")
)

// OpStore stores operations and views.
type OpStore interface {
	Name() string
	RootOperationID() models.OperationID
	RootViewID() models.ViewID
	ReadView(ctx context.Context, id models.ViewID) (*models.View, error)
	WriteView(ctx context.Context, view *models.View) (models.ViewID, error)
	ReadOperation(ctx context.Context, id models.OperationID) (*models.Operation, error)
	WriteOperation(ctx context.Context, op *models.Operation) (models.OperationID, error)
	// ResolveOperationIDPrefix finds the single operation whose hex id
	// starts with prefix.
	ResolveOperationIDPrefix(ctx context.Context, prefix string) (models.OperationID, error)
	// GC deletes operations not reachable from heads, and views no kept
	// operation refers to, if they were written before keepNewer.
	GC(ctx context.Context, heads []models.OperationID, keepNewer time.Time) error
	Close() error
}

const (
	bucketOperations = "operations"
	bucketViews      = "views"
)

// kv is the raw storage underneath a Store. Keys are raw ids; iteration is
// in key order.
type kv interface {
	get(ctx context.Context, bucket string, key []byte) ([]byte, error)
	put(ctx context.Context, bucket string, key, value []byte) error
	// seek calls fn for keys >= start in order until fn returns false.
	seek(ctx context.Context, bucket string, start []byte, fn func(key []byte) bool) error
	list(ctx context.Context, bucket string, fn func(key, value []byte) error) error
	delete(ctx context.Context, bucket string, keys [][]byte) error
	close() error
}

// Store implements OpStore over a kv. Records are an 8-byte little-endian
// write time in milliseconds followed by JSON.
type Store struct {
	name            string
	kv              kv
	logger          *slog.Logger
	rootOperationID models.OperationID
	rootViewID      models.ViewID
	rootView        *models.View
	now             func() time.Time
}

func newStore(name string, kv kv, rootCommitID models.CommitID, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		name:            name,
		kv:              kv,
		logger:          logger,
		rootOperationID: models.OperationID(make([]byte, IDLength)),
		rootViewID:      models.ViewID(make([]byte, IDLength)),
		rootView:        models.RootView(rootCommitID),
		now:             time.Now,
	}
}

func (s *Store) Name() string                        { return s.name }
func (s *Store) RootOperationID() models.OperationID { return s.rootOperationID }
func (s *Store) RootViewID() models.ViewID           { return s.rootViewID }
func (s *Store) Close() error                        { return s.kv.close() }

// SetClock replaces the clock used to stamp new records.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) rootOperation() *models.Operation {
	return &models.Operation{ViewID: s.rootViewID}
}

func (s *Store) encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8, 8+len(data))
	binary.LittleEndian.PutUint64(out, uint64(s.now().UnixMilli()))
	return append(out, data...), nil
}

func decode(record []byte, v any) (time.Time, error) {
	if len(record) < 8 {
		return time.Time{}, fmt.Errorf("record too short (%d bytes)", len(record))
	}
	written := time.UnixMilli(int64(binary.LittleEndian.Uint64(record[:8])))
	if v == nil {
		return written, nil
	}
	return written, json.Unmarshal(record[8:], v)
}

// ReadView returns the view. The root view is synthetic.
func (s *Store) ReadView(ctx context.Context, id models.ViewID) (*models.View, error) {
	if id == s.rootViewID {
		return s.rootView.Clone(), nil
	}
	record, err := s.kv.get(ctx, bucketViews, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("read view %s: %w", id.Hex(), err)
	}
	view := models.NewView()
	if _, err := decode(record, view); err != nil {
		return nil, fmt.Errorf("decode view %s: %w", id.Hex(), err)
	}
	return view, nil
}

// WriteView stores the view under its content hash.
func (s *Store) WriteView(ctx context.Context, view *models.View) (models.ViewID, error) {
	id := models.ViewID(contenthash.Sum(view))
	record, err := s.encode(view)
	if err != nil {
		return "", fmt.Errorf("encode view: %w", err)
	}
	if err := s.kv.put(ctx, bucketViews, []byte(id), record); err != nil {
		return "", fmt.Errorf("write view %s: %w", id.Hex(), err)
	}
	return id, nil
}

// ReadOperation returns the operation. The root operation is synthetic.
func (s *Store) ReadOperation(ctx context.Context, id models.OperationID) (*models.Operation, error) {
	if id == s.rootOperationID {
		return s.rootOperation(), nil
	}
	record, err := s.kv.get(ctx, bucketOperations, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("read operation %s: %w", id.Hex(), err)
	}
	var op models.Operation
	if _, err := decode(record, &op); err != nil {
		return nil, fmt.Errorf("decode operation %s: %w", id.Hex(), err)
	}
	return &op, nil
}

// WriteOperation stores the operation under its content hash.
func (s *Store) WriteOperation(ctx context.Context, op *models.Operation) (models.OperationID, error) {
	if len(op.Parents) == 0 {
		return "", ErrNoParents
	}
	id := models.OperationID(contenthash.Sum(op))
	record, err := s.encode(op)
	if err != nil {
		return "", fmt.Errorf("encode operation: %w", err)
	}
	if err := s.kv.put(ctx, bucketOperations, []byte(id), record); err != nil {
		return "", fmt.Errorf("write operation %s: %w", id.Hex(), err)
	}
	return id, nil
}

// ResolveOperationIDPrefix seeks to the first key sharing the prefix's
// whole bytes and scans forward while keys still match.
func (s *Store) ResolveOperationIDPrefix(ctx context.Context, prefix string) (models.OperationID, error) {
	prefix = strings.ToLower(prefix)
	if prefix == "" {
		return "", fmt.Errorf("%w: empty prefix", ErrAmbiguousPrefix)
	}
	start, err := hex.DecodeString(prefix[:len(prefix)/2*2])
	if err != nil {
		return "", fmt.Errorf("invalid operation id prefix %q: %w", prefix, err)
	}

	var matches []models.OperationID
	if strings.HasPrefix(s.rootOperationID.Hex(), prefix) {
		matches = append(matches, s.rootOperationID)
	}
	err = s.kv.seek(ctx, bucketOperations, start, func(key []byte) bool {
		h := hex.EncodeToString(key)
		if !strings.HasPrefix(h, prefix[:len(start)*2]) {
			return false
		}
		if strings.HasPrefix(h, prefix) {
			matches = append(matches, models.OperationID(key))
		}
		return len(matches) < 2
	})
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no operation with id prefix %q: %w", prefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrAmbiguousPrefix, prefix)
	}
}

// GC walks operations back from heads and deletes everything else that was
// written before keepNewer.
func (s *Store) GC(ctx context.Context, heads []models.OperationID, keepNewer time.Time) error {
	liveOps := make(map[models.OperationID]struct{})
	liveViews := map[models.ViewID]struct{}{s.rootViewID: {}}
	queue := append([]models.OperationID(nil), heads...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := liveOps[id]; ok {
			continue
		}
		liveOps[id] = struct{}{}
		op, err := s.ReadOperation(ctx, id)
		if err != nil {
			return err
		}
		liveViews[op.ViewID] = struct{}{}
		queue = append(queue, op.Parents...)
	}

	collect := func(bucket string, live func(key []byte) bool) ([][]byte, error) {
		var garbage [][]byte
		err := s.kv.list(ctx, bucket, func(key, value []byte) error {
			if live(key) {
				return nil
			}
			written, err := decode(value, nil)
			if err != nil {
				return err
			}
			if written.Before(keepNewer) {
				garbage = append(garbage, append([]byte(nil), key...))
			}
			return nil
		})
		return garbage, err
	}

	deadOps, err := collect(bucketOperations, func(k []byte) bool {
		_, ok := liveOps[models.OperationID(k)]
		return ok
	})
	if err != nil {
		return fmt.Errorf("scan operations: %w", err)
	}
	deadViews, err := collect(bucketViews, func(k []byte) bool {
		_, ok := liveViews[models.ViewID(k)]
		return ok
	})
	if err != nil {
		return fmt.Errorf("scan views: %w", err)
	}
	if err := s.kv.delete(ctx, bucketOperations, deadOps); err != nil {
		return fmt.Errorf("delete operations: %w", err)
	}
	if err := s.kv.delete(ctx, bucketViews, deadViews); err != nil {
		return fmt.Errorf("delete views: %w", err)
	}
	s.logger.Info("op store gc complete",
		"live_operations", len(liveOps),
		"deleted_operations", len(deadOps),
		"deleted_views", len(deadViews),
	)
	return nil
}
