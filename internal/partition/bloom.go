package partition

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"
)

// BloomAlgorithm identifies the hashing scheme recorded in sidecars.
const BloomAlgorithm = "murmur3_128"

// BloomFilter provides probabilistic membership testing over a file's key
// column. There are no false negatives. Not safe for concurrent Add.
type BloomFilter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// NewBloomFilter creates a filter with the given number of bits and hash functions.
func NewBloomFilter(numBits, numHashes int) *BloomFilter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &BloomFilter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewBloomFilterWithEstimates sizes a filter for the expected item count and
// target false positive rate.
//
//   - m = -n * ln(p) / (ln(2)^2)
//   - k = (m/n) * ln(2)
func NewBloomFilterWithEstimates(expectedItems int, targetFPR float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	k := (m / n) * math.Ln2

	numBits := int(math.Ceil(m))
	if numBits < 64 {
		numBits = 64
	}
	numHashes := int(math.Ceil(k))
	if numHashes < 1 {
		numHashes = 1
	}
	return NewBloomFilter(numBits, numHashes)
}

// Add adds a key.
func (bf *BloomFilter) Add(key string) {
	h1, h2 := murmur3.Sum128([]byte(key))
	for i := uint64(0); i < bf.numHashes; i++ {
		pos := (h1 + i*h2) % bf.numBits
		bf.bits[pos/64] |= 1 << (pos % 64)
	}
	bf.count++
}

// Contains reports whether the key may have been added.
func (bf *BloomFilter) Contains(key string) bool {
	h1, h2 := murmur3.Sum128([]byte(key))
	for i := uint64(0); i < bf.numHashes; i++ {
		pos := (h1 + i*h2) % bf.numBits
		if bf.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// NumBits returns the number of bits in the filter.
func (bf *BloomFilter) NumBits() int { return int(bf.numBits) }

// NumHashes returns the number of hash functions.
func (bf *BloomFilter) NumHashes() int { return int(bf.numHashes) }

// Count returns the number of keys added.
func (bf *BloomFilter) Count() uint64 { return bf.count }

// BloomFilterMeta is the sidecar form of a filter: the bit array is
// snappy-compressed and base64-encoded.
type BloomFilterMeta struct {
	Algorithm  string `json:"algorithm"`
	NumBits    int    `json:"num_bits"`
	NumHashes  int    `json:"num_hashes"`
	Count      uint64 `json:"count"`
	Base64Data string `json:"base64_data"`
}

// Meta serializes the filter for a sidecar.
func (bf *BloomFilter) Meta() *BloomFilterMeta {
	raw := make([]byte, len(bf.bits)*8)
	for i, word := range bf.bits {
		binary.LittleEndian.PutUint64(raw[i*8:], word)
	}

	return &BloomFilterMeta{
		Algorithm:  BloomAlgorithm,
		NumBits:    int(bf.numBits),
		NumHashes:  int(bf.numHashes),
		Count:      bf.count,
		Base64Data: base64.StdEncoding.EncodeToString(snappy.Encode(nil, raw)),
	}
}

// Filter reconstructs the filter from its sidecar form.
func (m *BloomFilterMeta) Filter() (*BloomFilter, error) {
	if m == nil {
		return nil, errors.New("bloom: nil filter metadata")
	}
	if m.Algorithm != BloomAlgorithm {
		return nil, fmt.Errorf("bloom: unsupported algorithm %q", m.Algorithm)
	}
	if m.NumBits <= 0 || m.NumHashes <= 0 {
		return nil, errors.New("bloom: invalid filter parameters")
	}

	compressed, err := base64.StdEncoding.DecodeString(m.Base64Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: invalid base64 data: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("bloom: snappy decompress failed: %w", err)
	}

	numWords := (m.NumBits + 63) / 64
	if len(raw) < numWords*8 {
		return nil, fmt.Errorf("bloom: expected %d bytes, got %d", numWords*8, len(raw))
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}

	return &BloomFilter{
		bits:      bits,
		numBits:   uint64(numWords * 64),
		numHashes: uint64(m.NumHashes),
		count:     m.Count,
	}, nil
}
