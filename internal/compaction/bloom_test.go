package compaction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBloomFilterNeverFalseNegatives(t *testing.T) {
	var b = newBloomFilter(1000, 0.01)
	var keys = make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("msg-%d", i)
		b.Add(keys[i])
	}
	for _, k := range keys {
		require.True(t, b.MightContain(k))
	}
}

func TestBloomFilterFalsePositiveRateIsBounded(t *testing.T) {
	var n = 5000
	var b = newBloomFilter(n, 0.01)
	for i := 0; i < n; i++ {
		b.Add(fmt.Sprintf("present-%d", i))
	}

	var falsePositives int
	var trials = 10000
	for i := 0; i < trials; i++ {
		if b.MightContain(fmt.Sprintf("absent-%d", i)) {
			falsePositives++
		}
	}

	// Configured for a 1% false-positive rate; allow generous headroom
	// since this is a probabilistic structure, not an exact bound.
	require.Less(t, float64(falsePositives)/float64(trials), 0.05)
}

func TestDedupIndexExactSetBelowThreshold(t *testing.T) {
	var d = newDedupIndex(10)
	require.NotNil(t, d.exact)
	require.Nil(t, d.bloom)

	d.Add("a")
	require.True(t, d.Contains("a"))
	require.False(t, d.Contains("b"))
}

func TestDedupIndexBloomAboveThreshold(t *testing.T) {
	var d = newDedupIndex(hashSetThreshold + 1)
	require.Nil(t, d.exact)
	require.NotNil(t, d.bloom)

	d.Add("a")
	require.True(t, d.Contains("a"))
}
