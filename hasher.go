package nbmap

import (
	"hash/maphash"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// hashPrime is the 64-bit Golden Ratio mixing constant.
const hashPrime = 0x9E3779B185EBCA87

// mix64 spreads an integer key over the full 64 bits so that
// consecutive integers do not land in consecutive slots.
func mix64(x uint64) uint64 {
	x *= hashPrime
	return x ^ x>>32
}

// defaultHasher returns the hash function used by NewMap. Integer keys
// are mixed directly; every other comparable type goes through
// hash/maphash with a per-map seed.
func defaultHasher[K comparable]() func(K) uint64 {
	switch any(*new(K)).(type) {
	case int, uint, uintptr, int64, uint64, int32, uint32, int16, uint16, int8, uint8:
		switch unsafe.Sizeof(*new(K)) {
		case 8:
			return func(key K) uint64 {
				return mix64(*(*uint64)(unsafe.Pointer(&key)))
			}
		case 4:
			return func(key K) uint64 {
				return mix64(uint64(*(*uint32)(unsafe.Pointer(&key))))
			}
		case 2:
			return func(key K) uint64 {
				return mix64(uint64(*(*uint16)(unsafe.Pointer(&key))))
			}
		default:
			return func(key K) uint64 {
				return mix64(uint64(*(*uint8)(unsafe.Pointer(&key))))
			}
		}
	}

	seed := maphash.MakeSeed()
	return func(key K) uint64 {
		return maphash.Comparable(seed, key)
	}
}

// XXHashString hashes s with xxHash64. The result is stable across
// processes, unlike the default seeded hasher.
func XXHashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// XXHashBytes hashes b with xxHash64.
func XXHashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Murmur3String hashes s with MurmurHash3 (x64, 128-bit, low half).
func Murmur3String(s string) uint64 {
	return murmur3.Sum64(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// Murmur3Bytes hashes b with MurmurHash3 (x64, 128-bit, low half).
func Murmur3Bytes(b []byte) uint64 {
	return murmur3.Sum64(b)
}

// Murmur3StringSeeded returns a MurmurHash3 string hasher bound to seed.
func Murmur3StringSeeded(seed uint32) func(string) uint64 {
	return func(s string) uint64 {
		return murmur3.Sum64WithSeed(unsafe.Slice(unsafe.StringData(s), len(s)), seed)
	}
}
