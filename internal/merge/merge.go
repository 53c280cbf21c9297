// Package merge implements generic N-way merges of values.
//
// A Merge holds one more "add" than "remove". Read as a sequence of diffs,
// the (i+1)-th add is paired with the i-th remove, and the first add is a
// diff from nothing. A 3-way merge of B and C onto base A is
// {removes: [A], adds: [B, C]}.
package merge

import (
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/opvc/internal/contenthash"
)

// Merge is an unresolved (or trivially resolved) N-way merge of values.
type Merge[T any] struct {
	removes []T
	adds    []T
}

// New creates a merge. It panics unless len(adds) == len(removes)+1.
func New[T any](removes, adds []T) Merge[T] {
	if len(adds) != len(removes)+1 {
		panic(fmt.Sprintf("merge: need exactly one more add than removes, got %d removes and %d adds",
			len(removes), len(adds)))
	}
	if len(removes) == 0 {
		removes = nil
	}
	return Merge[T]{removes: removes, adds: adds}
}

// Resolved creates a merge holding a single value.
func Resolved[T any](value T) Merge[T] {
	return Merge[T]{adds: []T{value}}
}

// Removes returns the removed terms.
func (m Merge[T]) Removes() []T { return m.removes }

// Adds returns the added terms.
func (m Merge[T]) Adds() []T { return m.adds }

// Arity returns the number of adds.
func (m Merge[T]) Arity() int { return len(m.adds) }

// IsResolved reports whether the merge has a single term. Trivial merges
// are not resolved by this check.
func (m Merge[T]) IsResolved() bool { return len(m.removes) == 0 }

// AsResolved returns the single term of a resolved merge.
func (m Merge[T]) AsResolved() (T, bool) {
	if len(m.adds) == 1 && len(m.removes) == 0 {
		return m.adds[0], true
	}
	var zero T
	return zero, false
}

// Clone returns a merge with copies of the term slices.
func (m Merge[T]) Clone() Merge[T] {
	return Merge[T]{
		removes: append([]T(nil), m.removes...),
		adds:    append([]T(nil), m.adds...),
	}
}

// Map applies fn to every term.
func Map[T, U any](m Merge[T], fn func(T) U) Merge[U] {
	out := Merge[U]{
		removes: make([]U, len(m.removes)),
		adds:    make([]U, len(m.adds)),
	}
	for i, v := range m.removes {
		out.removes[i] = fn(v)
	}
	for i, v := range m.adds {
		out.adds[i] = fn(v)
	}
	return out
}

// TryMap applies fn to every term, stopping at the first error.
func TryMap[T, U any](m Merge[T], fn func(T) (U, error)) (Merge[U], error) {
	out := Merge[U]{
		removes: make([]U, len(m.removes)),
		adds:    make([]U, len(m.adds)),
	}
	for i, v := range m.removes {
		u, err := fn(v)
		if err != nil {
			return Merge[U]{}, err
		}
		out.removes[i] = u
	}
	for i, v := range m.adds {
		u, err := fn(v)
		if err != nil {
			return Merge[U]{}, err
		}
		out.adds[i] = u
	}
	return out, nil
}

// Equal reports whether two merges have the same terms in the same order.
func Equal[T comparable](a, b Merge[T]) bool {
	if len(a.removes) != len(b.removes) || len(a.adds) != len(b.adds) {
		return false
	}
	for i := range a.removes {
		if a.removes[i] != b.removes[i] {
			return false
		}
	}
	for i := range a.adds {
		if a.adds[i] != b.adds[i] {
			return false
		}
	}
	return true
}

// ResolveTrivial attempts TrivialMerge on the merge's terms.
func ResolveTrivial[T comparable](m Merge[T]) (T, bool) {
	return TrivialMerge(m.removes, m.adds)
}

// Simplify joins diffs like A->B and B->C into A->C and drops A->A diffs.
func Simplify[T comparable](m Merge[T]) Merge[T] {
	removes := append([]T(nil), m.removes...)
	adds := append([]T(nil), m.adds...)
	addIndex := 0
	for addIndex < len(adds) {
		removeIndex := -1
		for i, r := range removes {
			if r == adds[addIndex] {
				removeIndex = i
				break
			}
		}
		if removeIndex < 0 {
			addIndex++
			continue
		}
		// Move the value into the diff being cancelled, then drop that diff.
		adds[removeIndex+1], adds[addIndex] = adds[addIndex], adds[removeIndex+1]
		removes = append(removes[:removeIndex], removes[removeIndex+1:]...)
		adds = append(adds[:removeIndex+1], adds[removeIndex+2:]...)
	}
	// A fully simplified merge must compare equal to Resolved.
	if len(removes) == 0 {
		removes = nil
	}
	return Merge[T]{removes: removes, adds: adds}
}

// Flatten turns a merge of merges into a single merge, preserving diffs.
//
// The 3-way merge of 3-way merges
//
//	4 5   7 8
//	 3     6
//	   1 2
//	    0
//
// flattens to the 9-way merge
//
//	4 5 0 7 8
//	 3 2 1 6
func Flatten[T any](m Merge[Merge[T]]) Merge[T] {
	result := m.adds[0].Clone()
	for i, remove := range m.removes {
		// Removed merges contribute their adds as removes (first add last) and
		// their removes as adds, which negates their diffs.
		result.removes = append(result.removes, remove.adds[1:]...)
		result.removes = append(result.removes, remove.adds[0])
		result.adds = append(result.adds, remove.removes...)
		add := m.adds[i+1]
		result.removes = append(result.removes, add.removes...)
		result.adds = append(result.adds, add.adds...)
	}
	return result
}

// Hash writes the merge's removes then adds as sequences.
func Hash[T any](h *contenthash.Hasher, m Merge[T], fn func(*contenthash.Hasher, T)) {
	contenthash.Seq(h, m.removes, fn)
	contenthash.Seq(h, m.adds, fn)
}

type jsonMerge[T any] struct {
	Removes []T `json:"removes"`
	Adds    []T `json:"adds"`
}

// MarshalJSON encodes the merge as {"removes": [...], "adds": [...]}.
func (m Merge[T]) MarshalJSON() ([]byte, error) {
	removes := m.removes
	if removes == nil {
		removes = []T{}
	}
	return json.Marshal(jsonMerge[T]{Removes: removes, Adds: m.adds})
}

// UnmarshalJSON decodes a merge and checks its arity.
func (m *Merge[T]) UnmarshalJSON(data []byte) error {
	var raw jsonMerge[T]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Adds) != len(raw.Removes)+1 {
		return fmt.Errorf("merge: invalid arity: %d removes, %d adds", len(raw.Removes), len(raw.Adds))
	}
	if len(raw.Removes) == 0 {
		raw.Removes = nil
	}
	m.removes, m.adds = raw.Removes, raw.Adds
	return nil
}
