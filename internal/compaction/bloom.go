package compaction

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// bloomFilter is a small, fixed-size-at-construction bloom filter used for
// per-run msg_id deduplication when the candidate set grows past
// hashSetThreshold rows, per the design note preferring an exact hash set
// below ~10^6 rows and a bloom filter above it. No bloom filter library
// appears anywhere in the retrieval pack, so this hand-rolled structure is
// the one place in the compaction engine that isn't grounded on a
// third-party dependency (see DESIGN.md).
type bloomFilter struct {
	bits   []uint64
	k      int
	size   uint64
}

// newBloomFilter sizes a filter for n expected elements at the given
// false-positive rate (default 0.1% per the design note).
func newBloomFilter(n int, falsePositiveRate float64) *bloomFilter {
	if n < 1 {
		n = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}
	var m = optimalBits(n, falsePositiveRate)
	var k = optimalHashes(m, n)
	if k < 1 {
		k = 1
	}
	return &bloomFilter{
		bits: make([]uint64, (m+63)/64),
		k:    k,
		size: uint64(m),
	}
}

func optimalBits(n int, p float64) int {
	var m = -1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	return int(math.Ceil(m))
}

func optimalHashes(m, n int) int {
	var k = float64(m) / float64(n) * math.Ln2
	return int(math.Round(k))
}

// Add inserts key into the filter.
func (b *bloomFilter) Add(key string) {
	h1, h2 := b.hashPair(key)
	for i := 0; i < b.k; i++ {
		var idx = (h1 + uint64(i)*h2) % b.size
		b.bits[idx/64] |= 1 << (idx % 64)
	}
}

// MightContain reports whether key was possibly added. False positives are
// possible; false negatives are not.
func (b *bloomFilter) MightContain(key string) bool {
	h1, h2 := b.hashPair(key)
	for i := 0; i < b.k; i++ {
		var idx = (h1 + uint64(i)*h2) % b.size
		if b.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

func (b *bloomFilter) hashPair(key string) (uint64, uint64) {
	var h1 = fnv.New64a()
	_, _ = h1.Write([]byte(key))
	var sum1 = h1.Sum64()

	var h2 = fnv.New64()
	_, _ = h2.Write([]byte(key))
	var sum2 = h2.Sum64()

	// Ensure sum2 is odd so the double-hashing sequence visits distinct
	// buckets regardless of b.size's factors.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sum2|1)
	return sum1, binary.LittleEndian.Uint64(buf[:])
}

// dedupIndex is the run-scoped deduplication index of compaction step 6: an
// exact hash set below hashSetThreshold published messages under
// consideration, a bloom filter above it. A bloom false positive makes the
// engine skip that record as a duplicate; the record is counted as such and
// is not written by this run, and nothing re-covers it afterwards.
type dedupIndex struct {
	exact map[string]struct{}
	bloom *bloomFilter
}

const hashSetThreshold = 1_000_000

func newDedupIndex(estimatedSize int) *dedupIndex {
	if estimatedSize <= hashSetThreshold {
		return &dedupIndex{exact: make(map[string]struct{}, estimatedSize)}
	}
	return &dedupIndex{bloom: newBloomFilter(estimatedSize, 0.001)}
}

func (d *dedupIndex) Add(msgID string) {
	if d.exact != nil {
		d.exact[msgID] = struct{}{}
		return
	}
	d.bloom.Add(msgID)
}

func (d *dedupIndex) Contains(msgID string) bool {
	if d.exact != nil {
		_, ok := d.exact[msgID]
		return ok
	}
	return d.bloom.MightContain(msgID)
}
