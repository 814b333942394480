// Package slots assigns physical slot positions to the logical connections
// of one controller side.
package slots

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
)

// ErrInsufficientSlots is returned when the eligible pool is smaller than the
// number of positions requested.
var ErrInsufficientSlots = errors.New("insufficient slots")

// Allocate returns count distinct indices in [0, limit), none of which appear
// in blacklist. The eligible pool is shuffled with rng and sliced, so the
// call never retries and fails immediately when the request cannot be met.
func Allocate(rng *rand.Rand, count, limit int, blacklist []int) ([]int, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInsufficientSlots, count)
	}

	pool := Eligible(limit, blacklist)
	if count > len(pool) {
		return nil, fmt.Errorf("%w: need %d of %d slots, %d eligible",
			ErrInsufficientSlots, count, limit, len(pool))
	}

	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	return pool[:count:count], nil
}

// Eligible returns the indices of [0, limit) that are not blacklisted, in
// ascending order.
func Eligible(limit int, blacklist []int) []int {
	if limit <= 0 {
		return []int{}
	}

	banned := make(map[int]struct{}, len(blacklist))
	for _, idx := range blacklist {
		banned[idx] = struct{}{}
	}

	pool := make([]int, 0, limit)
	for idx := 0; idx < limit; idx++ {
		if _, ok := banned[idx]; !ok {
			pool = append(pool, idx)
		}
	}
	return pool
}

// Sanitize drops blacklist entries outside [0, limit) and repeated entries.
// The surviving entries keep their original order; rejected ones are returned
// so the caller can report them.
func Sanitize(blacklist []int, limit int) (clean, rejected []int) {
	clean = make([]int, 0, len(blacklist))
	seen := make(map[int]struct{}, len(blacklist))
	for _, idx := range blacklist {
		if idx < 0 || idx >= limit {
			rejected = append(rejected, idx)
			continue
		}
		if _, dup := seen[idx]; dup {
			rejected = append(rejected, idx)
			continue
		}
		seen[idx] = struct{}{}
		clean = append(clean, idx)
	}
	return clean, rejected
}

// Fits reports whether count positions can be drawn from limit slots once
// blacklist has been removed.
func Fits(count, limit int, blacklist []int) bool {
	return len(blacklist)+count <= limit
}
