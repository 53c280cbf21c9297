package merge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trivial(removes, adds []string) (string, bool) {
	return TrivialMerge(removes, adds)
}

func TestTrivialMerge_SingleAdd(t *testing.T) {
	for _, x := range []string{"", "a", "b"} {
		v, ok := trivial(nil, []string{x})
		require.True(t, ok)
		assert.Equal(t, x, v)
	}
}

func TestTrivialMerge_ThreeWay(t *testing.T) {
	tests := []struct {
		name    string
		removes []string
		adds    []string
		want    string
		ok      bool
	}{
		{"unchanged", []string{"a"}, []string{"a", "a"}, "a", true},
		{"left changed", []string{"a"}, []string{"b", "a"}, "b", true},
		{"right changed", []string{"a"}, []string{"a", "b"}, "b", true},
		{"both changed same", []string{"a"}, []string{"b", "b"}, "b", true},
		{"both changed differently", []string{"a"}, []string{"b", "c"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := trivial(tt.removes, tt.adds)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestTrivialMerge_FiveWay(t *testing.T) {
	tests := []struct {
		name    string
		removes []string
		adds    []string
		want    string
		ok      bool
	}{
		{"all same", []string{"a", "a"}, []string{"a", "a", "a"}, "a", true},
		{"one side changed", []string{"a", "a"}, []string{"b", "a", "a"}, "b", true},
		{"changes cancel", []string{"a", "b"}, []string{"b", "a", "c"}, "c", true},
		{"two unrelated changes", []string{"a", "a"}, []string{"b", "c", "a"}, "", false},
		{"everyone agrees on change", []string{"a", "a"}, []string{"b", "b", "b"}, "b", true},
		{"same change twice against base", []string{"a", "a"}, []string{"b", "b", "a"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := trivial(tt.removes, tt.adds)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestTrivialMerge_PermutationInvariant(t *testing.T) {
	removes := []string{"a", "b"}
	addsPerms := [][]string{
		{"b", "a", "c"},
		{"c", "b", "a"},
		{"a", "c", "b"},
	}
	removesPerms := [][]string{removes, {"b", "a"}}
	for _, r := range removesPerms {
		for _, a := range addsPerms {
			v, ok := trivial(r, a)
			require.True(t, ok)
			assert.Equal(t, "c", v)
		}
	}

	for _, a := range [][]string{{"b", "c"}, {"c", "b"}} {
		_, ok := trivial([]string{"a"}, a)
		assert.False(t, ok)
	}
}

func TestTrivialMerge_ArityPanics(t *testing.T) {
	assert.Panics(t, func() { trivial([]string{"a"}, []string{"a"}) })
	assert.Panics(t, func() { New([]string{"a"}, []string{"a"}) })
}

func TestMerge_Resolved(t *testing.T) {
	m := Resolved(7)
	assert.True(t, m.IsResolved())
	v, ok := m.AsResolved()
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	c := New([]int{1}, []int{2, 3})
	assert.False(t, c.IsResolved())
	_, ok = c.AsResolved()
	assert.False(t, ok)
	assert.Equal(t, 2, c.Arity())
}

func TestSimplify(t *testing.T) {
	// A->A diff is dropped.
	got := Simplify(New([]int{0}, []int{0, 1}))
	assert.True(t, Equal(Resolved(1), got))

	// Both diffs cancel against the removes.
	got = Simplify(New([]int{0, 1}, []int{1, 0, 2}))
	assert.True(t, Equal(Resolved(2), got))

	// Only part of the merge cancels.
	got = Simplify(New([]int{0, 1}, []int{1, 2, 3}))
	assert.Equal(t, []int{0}, got.Removes())
	assert.Equal(t, []int{3, 2}, got.Adds())

	// Nothing to simplify.
	c := New([]int{0}, []int{1, 2})
	assert.True(t, Equal(c, Simplify(c)))

	// Fully cancelling diffs.
	got = Simplify(New([]int{1, 2}, []int{2, 1, 3}))
	assert.True(t, Equal(Resolved(3), got))

	// Resolved results are indistinguishable from Resolved.
	assert.Equal(t, Resolved(3), got)
	assert.Equal(t, Resolved(1), Simplify(New([]int{0}, []int{0, 1})))
	assert.Equal(t, Resolved(1), New([]int{}, []int{1}))
}

func TestFlatten(t *testing.T) {
	nested := New(
		[]Merge[int]{New([]int{1}, []int{0, 2})},
		[]Merge[int]{New([]int{3}, []int{4, 5}), New([]int{6}, []int{7, 8})},
	)
	got := Flatten(nested)
	assert.Equal(t, []int{3, 2, 0, 6}, got.Removes())
	assert.Equal(t, []int{4, 5, 1, 7, 8}, got.Adds())

	// Flattening resolved merges is the identity.
	got = Flatten(Resolved(New([]int{1}, []int{2, 3})))
	assert.True(t, Equal(New([]int{1}, []int{2, 3}), got))
}

func TestMapAndTryMap(t *testing.T) {
	m := New([]int{1}, []int{2, 3})
	doubled := Map(m, func(v int) int { return v * 2 })
	assert.Equal(t, []int{2}, doubled.Removes())
	assert.Equal(t, []int{4, 6}, doubled.Adds())

	_, err := TryMap(m, func(v int) (int, error) {
		if v == 3 {
			return 0, assert.AnError
		}
		return v, nil
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMerge_JSON(t *testing.T) {
	data, err := json.Marshal(New([]string{"a"}, []string{"b", "c"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"removes":["a"],"adds":["b","c"]}`, string(data))

	var m Merge[string]
	require.NoError(t, json.Unmarshal(data, &m))
	assert.True(t, Equal(New([]string{"a"}, []string{"b", "c"}), m))

	data, err = json.Marshal(Resolved("x"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"removes":[],"adds":["x"]}`, string(data))

	err = json.Unmarshal([]byte(`{"removes":["a"],"adds":["b"]}`), &m)
	assert.Error(t, err)
}
