// Package position computes ordering keys for drag-and-drop reordering.
// Keys are plain int64 values; inserting between two neighbours takes their
// midpoint, so most moves touch a single row. When the gap between two
// adjacent keys is exhausted the caller must renumber the whole sibling set
// and retry.
package position

import "errors"

const (
	// Seed is the key assigned to the first item of an empty container.
	Seed int64 = 1024
	// Stride is the gap used for boundary inserts and reindexing.
	Stride int64 = 1024
)

// ErrReindexRequired signals that no key exists strictly between the two
// neighbours. The sibling set must be renumbered before retrying.
var ErrReindexRequired = errors.New("position: no key between neighbours")

// Between returns a key for the slot bounded by prev and next. Either bound
// may be nil: nil prev means head of the container, nil next means tail,
// both nil means the container is empty. For interior slots the result r
// satisfies *prev < r < *next; integer division rounds the midpoint toward
// prev.
func Between(prev, next *int64) (int64, error) {
	switch {
	case prev == nil && next == nil:
		return Seed, nil
	case prev == nil:
		return *next - Stride, nil
	case next == nil:
		return *prev + Stride, nil
	}
	if *next-*prev <= 1 {
		return 0, ErrReindexRequired
	}
	return *prev + (*next-*prev)/2, nil
}

// Reindex returns fresh keys for n siblings kept in their current order:
// Seed, Seed+Stride, Seed+2*Stride, ... Renumbering twice without
// intervening moves yields identical keys.
func Reindex(n int) []int64 {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = Seed + int64(i)*Stride
	}
	return keys
}
