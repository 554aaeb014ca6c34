package partition

import (
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_Deterministic(t *testing.T) {
	keys := []string{"report.txt", "data/2024-01-01.csv", "", "ünïcødé.txt"}
	for _, key := range keys {
		first := For(key, 12)
		for i := 0; i < 100; i++ {
			assert.Equal(t, first, For(key, 12), "key %q", key)
		}
	}
}

func TestFor_MatchesFNV1a(t *testing.T) {
	h := fnv.New32a()
	h.Write([]byte("report.txt"))
	assert.Equal(t, int32(h.Sum32()%12), For("report.txt", 12))
}

func TestFor_Range(t *testing.T) {
	for _, partitions := range []int{1, 2, 3, 12, 64} {
		for i := 0; i < 500; i++ {
			p := For(fmt.Sprintf("file-%d.txt", i), partitions)
			assert.GreaterOrEqual(t, p, int32(0))
			assert.Less(t, p, int32(partitions))
		}
	}
}

func TestFor_SinglePartition(t *testing.T) {
	assert.Equal(t, int32(0), For("anything", 1))
}

func TestFor_Spreads(t *testing.T) {
	seen := make(map[int32]int)
	for i := 0; i < 1200; i++ {
		seen[For(fmt.Sprintf("object-%04d.log", i), 12)]++
	}
	// every partition gets some keys
	assert.Len(t, seen, 12)
}

func TestFor_PanicsOnInvalidCount(t *testing.T) {
	assert.Panics(t, func() { For("x", 0) })
}

func TestRouter(t *testing.T) {
	r := NewRouter("queue", 4)
	p := r.PartitionFor("report.txt")
	assert.Equal(t, For("report.txt", 4), p)
	assert.True(t, r.Owns(p, "report.txt"))
	assert.False(t, r.Owns((p+1)%4, "report.txt"))
}
