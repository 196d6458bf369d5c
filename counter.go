package nbmap

import (
	"sync/atomic"
	"unsafe"
)

// counterStripe is one cell of the striped live-entry counter. Each stripe
// occupies its own cache line so that writers hashing to different stripes
// never contend.
type counterStripe struct {
	c atomic.Int64

	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(atomic.Int64{})%CacheLineSize) % CacheLineSize]byte
}

// calcSizeLen returns the number of counter stripes for the given
// parallelism, rounded to a power of two.
func calcSizeLen(cpus int) int {
	return nextPowOf2(min(max(cpus, 1), maxCounterStripes))
}

func (m *CodecMap[K, S, V]) addSize(hash uint64, delta int64) {
	m.size[hash&m.sizeMask].c.Add(delta)
}

func (m *CodecMap[K, S, V]) sumSize() int64 {
	var sum int64
	for i := range m.size {
		sum += m.size[i].c.Load()
	}
	return sum
}
