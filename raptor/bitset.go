package raptor

import "math/bits"

// bitset is the marked-stop set of spec.md §9's design note: a flat
// bitset rather than a per-stop heap object or a Go map, since it is
// rebuilt and scanned every round.
type bitset struct {
	words []uint64
	n     int
}

func newBitset(n int) *bitset {
	return &bitset{words: make([]uint64, (n+63)/64), n: n}
}

func (b *bitset) set(i uint32) {
	b.words[i/64] |= 1 << (i % 64)
}

func (b *bitset) isEmpty() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func (b *bitset) forEach(fn func(i uint32)) {
	for wi, w := range b.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			idx := uint32(wi*64 + bit)
			if int(idx) < b.n {
				fn(idx)
			}
			w &= w - 1
		}
	}
}

// snapshot materializes the currently set bits as a slice, used where a
// second pass (footpath relaxation) must iterate over exactly the stops
// marked by the route scan even as it marks further stops in the same
// bitset.
func (b *bitset) snapshot() []uint32 {
	var out []uint32
	b.forEach(func(i uint32) { out = append(out, i) })
	return out
}
