package repo

// closestCommonNode walks backward from set1 and set2 one generation at a
// time, alternating sides, and returns the first node seen from both.
func closestCommonNode[T any, K comparable](set1, set2 []T, id func(T) K, neighbors func(T) ([]T, error)) (T, bool, error) {
	visited1 := make(map[K]struct{})
	visited2 := make(map[K]struct{})
	work1 := append([]T(nil), set1...)
	work2 := append([]T(nil), set2...)

	step := func(work []T, mine, theirs map[K]struct{}) ([]T, T, bool, error) {
		var next []T
		for _, node := range work {
			k := id(node)
			if _, ok := theirs[k]; ok {
				return nil, node, true, nil
			}
			if _, ok := mine[k]; ok {
				continue
			}
			mine[k] = struct{}{}
			ns, err := neighbors(node)
			if err != nil {
				var zero T
				return nil, zero, false, err
			}
			next = append(next, ns...)
		}
		var zero T
		return next, zero, false, nil
	}

	for len(work1) > 0 || len(work2) > 0 {
		var (
			found T
			ok    bool
			err   error
		)
		if work1, found, ok, err = step(work1, visited1, visited2); err != nil || ok {
			return found, ok, err
		}
		if work2, found, ok, err = step(work2, visited2, visited1); err != nil || ok {
			return found, ok, err
		}
	}
	var zero T
	return zero, false, nil
}

// dagHeads returns the nodes that are not ancestors of any other node in the
// input, preserving input order.
func dagHeads[T any, K comparable](nodes []T, id func(T) K, neighbors func(T) ([]T, error)) ([]T, error) {
	reachable := make(map[K]struct{})
	var work []T
	for _, n := range nodes {
		ns, err := neighbors(n)
		if err != nil {
			return nil, err
		}
		work = append(work, ns...)
	}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		k := id(n)
		if _, ok := reachable[k]; ok {
			continue
		}
		reachable[k] = struct{}{}
		ns, err := neighbors(n)
		if err != nil {
			return nil, err
		}
		work = append(work, ns...)
	}

	seen := make(map[K]struct{})
	var out []T
	for _, n := range nodes {
		k := id(n)
		if _, ok := reachable[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}
