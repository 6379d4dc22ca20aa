package hashtable

// HashFunc computes a 32-bit digest over key. Implementations must be pure
// functions of their input.
type HashFunc func(key []byte) uint32

// FNV1a is the default hash function: fast, good distribution for short
// keys such as connection and session ids.
func FNV1a(key []byte) uint32 {
	var hash uint32 = 2166136261
	for _, b := range key {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return hash
}

// Murmur3 implements the MurmurHash3 x86_32 finalizer variant used as the
// table's alternate, higher-quality hash function.
func Murmur3(key []byte) uint32 {
	const c1 = 0xcc9e2d51
	const c2 = 0x1b873593

	var h1 uint32 = 0x811c9dc5
	nblocks := len(key) / 4

	for i := 0; i < nblocks; i++ {
		k1 := uint32(key[i*4]) | uint32(key[i*4+1])<<8 | uint32(key[i*4+2])<<16 | uint32(key[i*4+3])<<24
		k1 *= c1
		k1 = (k1 << 15) | (k1 >> 17)
		k1 *= c2

		h1 ^= k1
		h1 = (h1 << 13) | (h1 >> 19)
		h1 = h1*5 + 0xe6546b64
	}

	tail := key[nblocks*4:]
	var k1 uint32
	switch len(tail) {
	case 3:
		k1 ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(tail[0])
		k1 *= c1
		k1 = (k1 << 15) | (k1 >> 17)
		k1 *= c2
		h1 ^= k1
	}

	h1 ^= uint32(len(key))
	h1 ^= h1 >> 16
	h1 *= 0x85ebca6b
	h1 ^= h1 >> 13
	h1 *= 0xc2b2ae35
	h1 ^= h1 >> 16

	return h1
}
