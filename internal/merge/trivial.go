package merge

import "fmt"

// TrivialMerge resolves removes/adds to a single value when the outcome does
// not depend on which side is considered the base. There must be exactly one
// more add than removes.
//
// The result only depends on the multisets of removes and adds, never on
// their order.
func TrivialMerge[T comparable](removes, adds []T) (T, bool) {
	var zero T
	if len(adds) != len(removes)+1 {
		panic(fmt.Sprintf("merge: TrivialMerge needs exactly one more add than removes, got %d removes and %d adds",
			len(removes), len(adds)))
	}

	// Everyone made the same change.
	if allEqual(removes) && allEqual(adds) {
		return adds[0], true
	}

	// Count each distinct value: +1 per add, -1 per remove. Values present on
	// both sides cancel out.
	counts := make(map[T]int, len(adds)+len(removes))
	order := make([]T, 0, len(adds)+len(removes))
	bump := func(v T, d int) {
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v] += d
	}
	for _, v := range adds {
		bump(v, 1)
	}
	for _, v := range removes {
		bump(v, -1)
	}

	var (
		result T
		nonZero int
	)
	for _, v := range order {
		c := counts[v]
		if c == 0 {
			continue
		}
		nonZero++
		result = v
	}
	if nonZero == 1 && counts[result] == 1 {
		return result, true
	}
	return zero, false
}

func allEqual[T comparable](values []T) bool {
	for i := 1; i < len(values); i++ {
		if values[i] != values[0] {
			return false
		}
	}
	return true
}
