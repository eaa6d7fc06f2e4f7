// Package bloom implements the per-SSTable probabilistic filter from
// spec §4.1: a classic Bloom filter built from double hashing so only two
// independent 32-bit hashes are needed regardless of k, then serialized
// into the SSTable's filter block.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Filter is a fixed-size bit set with a derived probe count k.
type Filter struct {
	k      uint8
	bits   []byte // bitLen bits, packed 8 per byte
	bitLen uint32
}

// New builds an empty filter sized for n expected keys at the given
// bits-per-key density (spec default 10).
func New(n int, bitsPerKey int) *Filter {
	if bitsPerKey <= 0 {
		bitsPerKey = 10
	}
	if n < 1 {
		n = 1
	}

	bitLen := uint32(n * bitsPerKey)
	if bitLen < 64 {
		bitLen = 64
	}
	// round up to a whole number of bytes
	byteLen := (bitLen + 7) / 8
	bitLen = byteLen * 8

	k := uint8(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	return &Filter{
		k:      k,
		bits:   make([]byte, byteLen),
		bitLen: bitLen,
	}
}

// hashes returns the two independent 32-bit hashes double hashing combines
// as h1 + i*h2 to produce k probe positions without k independent hash
// functions.
func hashes(key []byte) (h1, h2 uint32) {
	sum := xxhash.Sum64(key)
	h1 = uint32(sum)
	h2 = uint32(sum >> 32)
	if h2 == 0 {
		// avoid a degenerate stride of zero, which would make every probe
		// after the first collapse onto h1.
		h2 = 1
	}
	return h1, h2
}

// Add inserts key into the filter. Contract: every inserted key must
// subsequently test true under MayContain (no false negatives).
func (f *Filter) Add(key []byte) {
	h1, h2 := hashes(key)
	for i := uint8(0); i < f.k; i++ {
		bit := (h1 + uint32(i)*h2) % f.bitLen
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain reports whether key might be present. False positives are
// possible; false negatives are not.
func (f *Filter) MayContain(key []byte) bool {
	if len(f.bits) == 0 {
		return false
	}
	h1, h2 := hashes(key)
	for i := uint8(0); i < f.k; i++ {
		bit := (h1 + uint32(i)*h2) % f.bitLen
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter as {k:u8, bitset_len:u32, bitset_bytes},
// the block layout spec §4.1 mandates.
func (f *Filter) Encode() []byte {
	buf := make([]byte, 1+4+len(f.bits))
	buf[0] = f.k
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(f.bits)))
	copy(buf[5:], f.bits)
	return buf
}

// Decode parses a filter block previously produced by Encode.
func Decode(buf []byte) (*Filter, error) {
	if len(buf) < 5 {
		return nil, fmt.Errorf("bloom: truncated filter block (%d bytes)", len(buf))
	}
	k := buf[0]
	bitsetLen := binary.LittleEndian.Uint32(buf[1:5])
	if uint32(len(buf)-5) < bitsetLen {
		return nil, fmt.Errorf("bloom: filter block declares %d bitset bytes but only %d remain", bitsetLen, len(buf)-5)
	}
	bits := make([]byte, bitsetLen)
	copy(bits, buf[5:5+bitsetLen])
	return &Filter{k: k, bits: bits, bitLen: bitsetLen * 8}, nil
}

// EstimatedFalsePositiveRate returns (1 - e^(-kn/m))^k for n inserted keys.
func EstimatedFalsePositiveRate(bitsPerKey int, k uint8) float64 {
	ratio := 1.0 / float64(bitsPerKey)
	return math.Pow(1-math.Exp(-float64(k)*ratio), float64(k))
}
