package resolver

import (
	"math"
	"math/rand"
	"sort"
)

// WeightedRandomSample selects min(k, len(items)) distinct items without
// replacement, preferring higher weights probabilistically
// (Efraimidis-Spirakis: each candidate draws key U^(1/w) for U uniform in
// (0,1]; the k largest keys win). A nil weights slice, or one whose length
// does not match items, degenerates to a uniform random subset. Weights come
// from remote registry records, so a mismatch must not panic. A nil rng uses
// the shared source.
func WeightedRandomSample[T any](rng *rand.Rand, items []T, weights []float64, k int) []T {
	if k > len(items) {
		k = len(items)
	}
	if k <= 0 {
		return nil
	}
	if weights != nil && len(weights) != len(items) {
		weights = nil
	}

	uniform := func() float64 {
		if rng != nil {
			return 1 - rng.Float64()
		}
		return 1 - rand.Float64()
	}

	type keyed struct {
		key float64
		idx int
	}
	keys := make([]keyed, len(items))
	for i := range items {
		u := uniform()
		if weights == nil {
			keys[i] = keyed{key: u, idx: i}
			continue
		}
		keys[i] = keyed{key: math.Pow(u, 1/weights[i]), idx: i}
	}

	sort.Slice(keys, func(a, b int) bool { return keys[a].key > keys[b].key })

	out := make([]T, k)
	for i := 0; i < k; i++ {
		out[i] = items[keys[i].idx]
	}
	return out
}
