// Package bloom implements the per-block bloom filter SSTs carry over user
// keys. It is hand-rolled rather than pulled from a library: every LSM
// engine in the reference pack that has one (RocksDB, Pebble, Badger)
// treats the bloom filter as a format detail of the SST block, not a
// general-purpose dependency, and no bloom filter library in the example
// pool has a retrievable, verifiable API surface (see DESIGN.md).
package bloom

import "encoding/binary"

// Filter is a fixed-size bit array probed with k independent hash
// functions derived by double hashing (Kirsch-Mitzenmacher) two FNV-1a
// variants, which avoids computing k separate hashes per key and needs no
// opaque, unserializable seed state — the whole filter is plain bytes, so
// a filter built by the SST builder and one parsed back from an object
// store blob agree bit-for-bit.
type Filter struct {
	bits []byte
	k    int
}

// bitsPerKey controls the false-positive rate; 10 bits/key gives roughly
// 1% false positives at the optimal k, matching common LSM defaults.
const bitsPerKey = 10

// New builds an empty filter sized for an expected number of keys.
func New(expectedKeys int) *Filter {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	nBits := expectedKeys * bitsPerKey
	if nBits < 64 {
		nBits = 64
	}
	k := int(float64(bitsPerKey) * 0.69) // ln(2) ~= 0.69
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &Filter{
		bits: make([]byte, (nBits+7)/8),
		k:    k,
	}
}

func fnv1a64(key []byte, seed uint64) uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037) ^ seed
	for _, c := range key {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

func (f *Filter) hashes(key []byte) (h1, h2 uint64) {
	return fnv1a64(key, 0), fnv1a64(key, 0x9e3779b97f4a7c15)
}

func (f *Filter) nBits() uint64 { return uint64(len(f.bits)) * 8 }

// Add records a key (the user-key bytes, not the full key) in the filter.
func (f *Filter) Add(key []byte) {
	if len(f.bits) == 0 {
		return
	}
	h1, h2 := f.hashes(key)
	n := f.nBits()
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % n
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain reports whether key might be present. False means key is
// definitely absent, letting callers skip a block read entirely.
func (f *Filter) MayContain(key []byte) bool {
	if len(f.bits) == 0 {
		return true
	}
	h1, h2 := f.hashes(key)
	n := f.nBits()
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % n
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Marshal serializes the filter for storage in an SST block footer.
func (f *Filter) Marshal() []byte {
	out := make([]byte, 4+len(f.bits))
	binary.LittleEndian.PutUint32(out[0:4], uint32(f.k))
	copy(out[4:], f.bits)
	return out
}

// Unmarshal parses bytes produced by Marshal.
func Unmarshal(data []byte) *Filter {
	if len(data) < 4 {
		return &Filter{k: 1, bits: make([]byte, 8)}
	}
	k := int(binary.LittleEndian.Uint32(data[0:4]))
	return &Filter{
		k:    k,
		bits: append([]byte(nil), data[4:]...),
	}
}
