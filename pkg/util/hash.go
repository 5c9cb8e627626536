package util

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

const (
	M    uint64 = 0xc6a4a7935bd1e995
	SEED uint64 = 0xe17a1465
	R    uint64 = 47

	// HashSeed0 is the seed used for the first part of a composite key.
	HashSeed0 uint64 = 0x9ae16a3b2f90404f
	hashK1    uint64 = 0xc3a5c85c97cb3127
)

// HashBytes is a 64-bit murmur2 hash over data.
func HashBytes(data []byte) uint64 {
	l := uint64(len(data))
	h := SEED ^ (l * M)

	nBlocks := l / 8
	for i := uint64(0); i < nBlocks; i++ {
		k := binary.LittleEndian.Uint64(data[i*8:])
		k *= M
		k ^= k >> R
		k *= M

		h ^= k
		h *= M
	}
	tail := data[nBlocks*8:]
	switch l & 7 {
	case 7:
		h ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		h ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		h ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		h ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		h ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		h ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		h ^= uint64(tail[0])
		h *= M
	}
	h ^= h >> R
	h *= M
	h ^= h >> R
	return h
}

// HashSeeded hashes data with the previous hash as the seed so that
// hashes can be folded left to right over several parts.
func HashSeeded(data []byte, seed uint64) uint64 {
	return siphash.Hash(seed, hashK1, data)
}

// HashU64Seeded folds a scalar value into seed.
func HashU64Seeded(v uint64, seed uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return siphash.Hash(seed, hashK1, buf[:])
}
