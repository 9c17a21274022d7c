// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package affinity implements the administrative-group bitmask used to
// constrain Flex-Algorithm path computation, and the per-area registry that
// maps symbolic affinity names to bit positions.
package affinity

import (
	"fmt"
	"strings"
)

const (
	// Words is the number of 32-bit words in a Set.
	Words = 8
	// Bits is the number of addressable bit positions in a Set.
	Bits = Words * 32
)

// Set is a fixed-width affinity bitmask. Bit n lives in word n/32 at
// position n%32. Sets are values and compare by content.
type Set [Words]uint32

// FromWords builds a Set from a variable-length word slice as carried in
// link-state records. Extra words are dropped, missing words are zero.
func FromWords(words []uint32) Set {
	var s Set
	copy(s[:], words)
	return s
}

// Of returns a Set with the given bit positions set. Positions outside
// [0, Bits) are ignored.
func Of(bits ...int) Set {
	var s Set
	for _, b := range bits {
		s = s.With(b)
	}
	return s
}

// With returns a copy of s with bit b set.
func (s Set) With(b int) Set {
	if b < 0 || b >= Bits {
		return s
	}
	s[b>>5] |= 1 << uint(b&0x1f)
	return s
}

// Has reports whether bit b is set.
func (s Set) Has(b int) bool {
	if b < 0 || b >= Bits {
		return false
	}
	return s[b>>5]&(1<<uint(b&0x1f)) != 0
}

// Or returns the union of s and o.
func (s Set) Or(o Set) Set {
	for i := range s {
		s[i] |= o[i]
	}
	return s
}

// Positions returns the set bit positions in ascending order.
func (s Set) Positions() []int {
	var out []int
	for i, w := range s {
		for b := 0; b < 32; b++ {
			if w&(1<<uint(b)) != 0 {
				out = append(out, i*32+b)
			}
		}
	}
	return out
}

// Words returns the shortest word slice that still carries every set bit,
// the form in which a set is advertised.
func (s Set) Words() []uint32 {
	n := Words
	for n > 0 && s[n-1] == 0 {
		n--
	}
	out := make([]uint32, n)
	copy(out, s[:n])
	return out
}

func (s Set) String() string {
	parts := make([]string, 0, Words)
	for _, w := range s {
		parts = append(parts, fmt.Sprintf("%08x", w))
	}
	return strings.Join(parts, ":")
}

// Equal reports whether a and b carry exactly the same bits.
func Equal(a, b Set) bool {
	return a == b
}

// Disjoint reports whether a and b share no bit.
func Disjoint(a, b Set) bool {
	for i := range a {
		if a[i]&b[i] != 0 {
			return false
		}
	}
	return true
}

// Intersects reports whether a and b share at least one bit.
func Intersects(a, b Set) bool {
	return !Disjoint(a, b)
}

// IsSubset reports whether every bit of a is also present in b.
func IsSubset(a, b Set) bool {
	for i := range a {
		if a[i]&b[i] != a[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether no bit is set.
func IsZero(a Set) bool {
	return a == Set{}
}
