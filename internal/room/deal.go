package room

import (
	"fmt"
	"hash/fnv"
	mathrand "math/rand"
	"sort"
)

// GenerateNumbers deals one distinct pseudo-random integer in [min,max] to
// every player id, deterministically derived from the string seed. The same
// seed and player set always produce the same numbers.
func GenerateNumbers(seed string, playerIDs []string, min, max int) (map[string]int, error) {
	if len(playerIDs) == 0 {
		return nil, fmt.Errorf("no players to deal to")
	}
	span := max - min + 1
	if span < len(playerIDs) {
		return nil, fmt.Errorf("range [%d,%d] too small for %d players", min, max, len(playerIDs))
	}

	ids := make([]string, len(playerIDs))
	copy(ids, playerIDs)
	sort.Strings(ids)

	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	rng := mathrand.New(mathrand.NewSource(int64(h.Sum64())))

	perm := rng.Perm(span)
	numbers := make(map[string]int, len(ids))
	for i, id := range ids {
		numbers[id] = min + perm[i]
	}
	return numbers, nil
}

// EvaluateOrder checks a submitted ordering against the dealt numbers.
// FailedAt is the index of the first element that breaks ascending order,
// or NoFailedIndex on success.
func EvaluateOrder(list []string, numbers map[string]int) (OrderState, error) {
	if len(list) == 0 {
		return OrderState{}, fmt.Errorf("submitted order is empty")
	}
	seen := make(map[string]bool, len(list))
	for _, id := range list {
		if _, ok := numbers[id]; !ok {
			return OrderState{}, fmt.Errorf("player %q has no dealt number", id)
		}
		if seen[id] {
			return OrderState{}, fmt.Errorf("player %q listed twice", id)
		}
		seen[id] = true
	}

	out := OrderState{
		List:     append([]string(nil), list...),
		Total:    len(list),
		FailedAt: NoFailedIndex,
	}
	for i := 1; i < len(list); i++ {
		if numbers[list[i-1]] > numbers[list[i]] {
			out.Failed = true
			out.FailedAt = i
			break
		}
	}
	return out, nil
}
