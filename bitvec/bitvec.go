// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package bitvec implements fixed-width dense bit vectors
// indexed by small integer IDs.
package bitvec

import (
	"math/bits"

	"golang.org/x/exp/slices"
)

const wordBits = 64

// Vector is a fixed-width bit vector.
// The zero value is an empty vector of width zero.
type Vector struct {
	words []uint64
	n     int
}

// New returns an all-zeros vector of width n.
func New(n int) Vector {
	return Vector{words: make([]uint64, (n+wordBits-1)/wordBits), n: n}
}

// Len returns the width of the vector.
func (v Vector) Len() int { return v.n }

// Test returns the i-th bit.
func (v Vector) Test(i int) bool {
	return v.words[i/wordBits]&(1<<(i%wordBits)) != 0
}

// Set sets the i-th bit.
func (v Vector) Set(i int) {
	v.words[i/wordBits] |= 1 << (i % wordBits)
}

// Clear clears the i-th bit.
func (v Vector) Clear(i int) {
	v.words[i/wordBits] &^= 1 << (i % wordBits)
}

// Count returns the number of set bits.
func (v Vector) Count() int {
	c := 0
	for _, w := range v.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Empty returns true if no bit is set.
func (v Vector) Empty() bool {
	for _, w := range v.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Or sets v |= u.
func (v Vector) Or(u Vector) {
	for i, w := range u.words {
		v.words[i] |= w
	}
}

// And sets v &= u.
func (v Vector) And(u Vector) {
	for i, w := range u.words {
		v.words[i] &= w
	}
}

// AndNot sets v &^= u.
func (v Vector) AndNot(u Vector) {
	for i, w := range u.words {
		v.words[i] &^= w
	}
}

// AnyCommon returns true if v and u share a set bit.
func (v Vector) AnyCommon(u Vector) bool {
	for i, w := range u.words {
		if v.words[i]&w != 0 {
			return true
		}
	}
	return false
}

// Contains returns true if every set bit of u is also set in v.
func (v Vector) Contains(u Vector) bool {
	for i, w := range u.words {
		if w&^v.words[i] != 0 {
			return false
		}
	}
	return true
}

// Equal returns true if v and u have identical width and bits.
func (v Vector) Equal(u Vector) bool {
	return v.n == u.n && slices.Equal(v.words, u.words)
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	return Vector{words: slices.Clone(v.words), n: v.n}
}

// Next returns the position of the first set bit at or after i,
// or -1 if there is none.
func (v Vector) Next(i int) int {
	if i >= v.n {
		return -1
	}
	w := i / wordBits
	cur := v.words[w] >> (i % wordBits)
	if cur != 0 {
		return i + bits.TrailingZeros64(cur)
	}
	for w++; w < len(v.words); w++ {
		if v.words[w] != 0 {
			return w*wordBits + bits.TrailingZeros64(v.words[w])
		}
	}
	return -1
}

// Each calls fn for every set bit in ascending order.
func (v Vector) Each(fn func(i int)) {
	for i := v.Next(0); i >= 0; i = v.Next(i + 1) {
		fn(i)
	}
}

// Bits returns the positions of all set bits in ascending order.
func (v Vector) Bits() []int {
	out := make([]int, 0, v.Count())
	v.Each(func(i int) { out = append(out, i) })
	return out
}

// AppendWords appends the raw words of v to dst;
// used to build canonical encodings for hashing.
func (v Vector) AppendWords(dst []byte) []byte {
	for _, w := range v.words {
		dst = append(dst,
			byte(w), byte(w>>8), byte(w>>16), byte(w>>24),
			byte(w>>32), byte(w>>40), byte(w>>48), byte(w>>56))
	}
	return dst
}
