package cache

import (
	"math/rand"
	"sort"
)

// Sort orders items for eviction: walking the returned slice from index
// 0 and deleting while cumulative size exceeds the cache limit evicts in
// the right order for the policy.
func Sort(policy EvictionPolicy, items []Item, rng *rand.Rand) []Item {
	out := make([]Item, len(items))
	copy(out, items)

	switch policy {
	case PolicyLRU:
		sort.Slice(out, func(i, j int) bool { return out[i].Atime.Before(out[j].Atime) })
	case PolicyFIFO:
		sort.Slice(out, func(i, j int) bool { return out[i].Mtime.Before(out[j].Mtime) })
	case PolicyRandom:
		sort.Slice(out, func(i, j int) bool { return out[i].Mtime.Before(out[j].Mtime) })
		if len(out) > 1 {
			tail := out[len(out)-1]
			head := out[:len(out)-1]
			if rng == nil {
				rng = rand.New(rand.NewSource(1))
			}
			rng.Shuffle(len(head), func(i, j int) { head[i], head[j] = head[j], head[i] })
			out = append(head, tail)
		}
	case PolicyNone:
		return nil
	}
	return out
}
