package models

import "sort"

// Cart maps catalog item id to requested quantity.
// Quantities are always >= 1; an item that drops to 0 is removed.
type Cart map[int64]int

// ItemIDs returns the distinct item ids in ascending order.
func (c Cart) ItemIDs() []int64 {
	ids := make([]int64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	for id, qty := range c {
		out[id] = qty
	}
	return out
}

// Valid reports whether every entry respects the quantity invariant.
func (c Cart) Valid() bool {
	for _, qty := range c {
		if qty < 1 {
			return false
		}
	}
	return true
}
