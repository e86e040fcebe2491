package world

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Roll returns a deterministic pseudo-random value in [0, 1) derived from the
// world seed, a salt naming the decision, and any number of integers.
// Equal inputs always yield the same roll.
func Roll(seed int64, salt string, parts ...int) float64 {
	return float64(Hash(seed, salt, parts...)>>11) / float64(uint64(1)<<53)
}

// Hash returns the 64-bit digest behind Roll. Callers use it to pick an index
// from a list deterministically.
func Hash(seed int64, salt string, parts ...int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(salt)
	for _, p := range parts {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(p)))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Pick returns an index in [0, n) chosen deterministically; n must be positive.
func Pick(n int, seed int64, salt string, parts ...int) int {
	if n <= 1 {
		return 0
	}
	return int(Hash(seed, salt, parts...) % uint64(n))
}

