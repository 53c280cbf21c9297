// Package contenthash provides portable, stable hashing used to derive every
// content-addressed identifier in the repository.
//
// Encoding rules:
//   - fixed-width integers are written little-endian at their natural width
//   - variable-length sequences write a u64 length, then their elements in order
//   - unordered containers are sorted by key before being written as a sequence
//   - sum types write a u32 ordinal of the active variant, then its fields
//
// The digest is BLAKE2b-512. Any two processes, or two backends, that hash the
// same value must produce the same bytes, so the rules above must never change.
package contenthash

import (
	"encoding/binary"
	"hash"
	"io"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a digest produced by Sum.
const Size = blake2b.Size

// Hashable is implemented by values that can write their portable encoding.
type Hashable interface {
	ContentHash(h *Hasher)
}

// Hasher writes the portable encoding of values to a byte sink.
type Hasher struct {
	w   io.Writer
	d   hash.Hash
	buf [8]byte
}

// New returns a Hasher that feeds a BLAKE2b-512 digest.
func New() *Hasher {
	d, err := blake2b.New512(nil)
	if err != nil {
		// Only fails for an oversized key.
		panic(err)
	}
	return &Hasher{w: d, d: d}
}

// NewWriter returns a Hasher that writes the encoding to w. Sum is not
// available on such a Hasher.
func NewWriter(w io.Writer) *Hasher {
	return &Hasher{w: w}
}

func (h *Hasher) write(p []byte) {
	// hash.Hash never returns an error; other sinks are expected to be
	// in-memory buffers.
	_, _ = h.w.Write(p)
}

// Bool writes b as a single byte.
func (h *Hasher) Bool(b bool) {
	if b {
		h.U8(1)
	} else {
		h.U8(0)
	}
}

// U8 writes a single byte.
func (h *Hasher) U8(v uint8) {
	h.buf[0] = v
	h.write(h.buf[:1])
}

// U32 writes v as 4 little-endian bytes.
func (h *Hasher) U32(v uint32) {
	binary.LittleEndian.PutUint32(h.buf[:4], v)
	h.write(h.buf[:4])
}

// I32 writes v as 4 little-endian bytes.
func (h *Hasher) I32(v int32) {
	h.U32(uint32(v))
}

// U64 writes v as 8 little-endian bytes.
func (h *Hasher) U64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:8], v)
	h.write(h.buf[:8])
}

// I64 writes v as 8 little-endian bytes.
func (h *Hasher) I64(v int64) {
	h.U64(uint64(v))
}

// Len writes a sequence length prefix.
func (h *Hasher) Len(n int) {
	h.U64(uint64(n))
}

// Variant writes the ordinal of the active variant of a sum type.
func (h *Hasher) Variant(ordinal uint32) {
	h.U32(ordinal)
}

// Bytes writes b as a length-prefixed byte sequence.
func (h *Hasher) Bytes(b []byte) {
	h.Len(len(b))
	h.write(b)
}

// String writes s as a length-prefixed byte sequence of its UTF-8 bytes.
func (h *Hasher) String(s string) {
	h.Len(len(s))
	_, _ = io.WriteString(h.w, s)
}

// Value writes v's own encoding.
func (h *Hasher) Value(v Hashable) {
	v.ContentHash(h)
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() []byte {
	if h.d == nil {
		panic("contenthash: Sum called on a writer-backed Hasher")
	}
	return h.d.Sum(nil)
}

// Sum returns the BLAKE2b-512 digest of v's encoding.
func Sum(v Hashable) []byte {
	h := New()
	v.ContentHash(h)
	return h.Sum()
}

// Seq writes items as a length-prefixed sequence using fn for each element.
func Seq[T any](h *Hasher, items []T, fn func(*Hasher, T)) {
	h.Len(len(items))
	for _, item := range items {
		fn(h, item)
	}
}

// Option writes the encoding of an optional value: ordinal 0 for none,
// ordinal 1 followed by the value for some.
func Option[T any](h *Hasher, v T, present bool, fn func(*Hasher, T)) {
	if !present {
		h.Variant(0)
		return
	}
	h.Variant(1)
	fn(h, v)
}

// Map writes m as a sequence of (key, value) pairs sorted by key.
func Map[K ~string, V any](h *Hasher, m map[K]V, fn func(*Hasher, K, V)) {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	h.Len(len(keys))
	for _, k := range keys {
		fn(h, k, m[k])
	}
}

// Set writes the members of s in sorted order as a sequence.
func Set[K ~string](h *Hasher, s map[K]struct{}, fn func(*Hasher, K)) {
	keys := make([]K, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	h.Len(len(keys))
	for _, k := range keys {
		fn(h, k)
	}
}

// StringMap writes a map of strings sorted by key.
func StringMap(h *Hasher, m map[string]string) {
	Map(h, m, func(h *Hasher, k, v string) {
		h.String(k)
		h.String(v)
	})
}
