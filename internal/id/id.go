// Package id implements the Chord identifier space: SHA-1 derived ids over
// a 160-bit ring, and the modular arc predicate used throughout the core
// for "is x between these two ids" routing decisions.
package id

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"math/big"
)

// Bits is the width of the identifier ring, 2^Bits.
const Bits = 160

// ID is a big-endian SHA-1 digest, compared byte-wise around the ring.
type ID []byte

// FromHost derives a ring identifier from a bare host string: no port, no
// object name. Every object co-located on the same host shares one ring
// position.
func FromHost(host string) ID {
	h := sha1.New()
	h.Write([]byte(host))
	return h.Sum(nil)
}

// FromKey derives a ring identifier for an arbitrary string DHT key.
func FromKey(key string) ID {
	return FromHost(key)
}

// Equal reports whether two ids are byte-identical.
func (i ID) Equal(o ID) bool {
	return bytes.Equal(i, o)
}

// String renders the id as hex, for logging.
func (i ID) String() string {
	return fmt.Sprintf("%x", []byte(i))
}

// Cmp is bytes.Compare over the two ids.
func (i ID) Cmp(o ID) int {
	return bytes.Compare(i, o)
}

// InArc reports whether x lies in the half-open-on-the-left, closed-on-the
// right arc (l, r] moving clockwise around the ring, wrapping past the
// origin when l > r. l == r is invalid and always
// reports false rather than panicking, since callers treat it as "nothing
// is ever in an empty arc".
func InArc(x, l, r ID) bool {
	if l.Equal(r) {
		return false
	}
	if l.Cmp(r) > 0 {
		return x.Cmp(l) > 0 || x.Cmp(r) <= 0
	}
	return x.Cmp(l) > 0 && x.Cmp(r) <= 0
}

// InArcOpen is InArc without the right endpoint: (l, r) exclusive on both
// sides. Used by closest_preceding_node, which must never select r itself.
func InArcOpen(x, l, r ID) bool {
	if l.Equal(r) {
		return false
	}
	if l.Cmp(r) > 0 {
		return x.Cmp(l) > 0 || x.Cmp(r) < 0
	}
	return x.Cmp(l) > 0 && x.Cmp(r) < 0
}

// PowerOffset computes (id + 2^exp) mod 2^Bits, the address of the exp-th
// finger table entry.
func PowerOffset(base ID, exp int) ID {
	idInt := new(big.Int).SetBytes(base)
	offset := new(big.Int).Exp(big.NewInt(2), big.NewInt(int64(exp)), nil)
	sum := new(big.Int).Add(idInt, offset)
	ceil := new(big.Int).Exp(big.NewInt(2), big.NewInt(Bits), nil)
	sum.Mod(sum, ceil)

	out := make([]byte, (Bits+7)/8)
	b := sum.Bytes()
	copy(out[len(out)-len(b):], b)
	return out
}
