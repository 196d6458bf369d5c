package nbmap

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	// mapLoadFactor is the fraction of claimed key slots (tombstones
	// included) at which a table asks for a resize.
	mapLoadFactor = 0.75
	// minTableLen is the smallest table the map ever allocates.
	minTableLen = 8
	// maxTableLen bounds the slot count; growing past it is fatal.
	maxTableLen = 1 << (bits.UintSize - 3)
	// copyChunkSlots is the number of slots a helper claims per visit.
	copyChunkSlots = 1024
	// maxCounterStripes caps the striped live counter.
	maxCounterStripes = 64
)

type cellKind uint8

const (
	valueCell cellKind = iota + 1
	tombstoneCell
	primeCell
)

// valCell is the value half of a slot. A nil *valCell is an empty slot.
// A valueCell holds a user value (zero values included). A primeCell
// wraps the value that was current when the slot started migrating.
type valCell[V any] struct {
	kind  cellKind
	value V
	inner *valCell[V]
}

func (c *valCell[V]) isLive() bool {
	return c != nil && c.kind == valueCell
}

func (c *valCell[V]) isPrime() bool {
	return c != nil && c.kind == primeCell
}

// keyCell is the key half of a slot; it is written once and never
// changes. moved marks an empty slot sealed by a migration.
type keyCell[S any] struct {
	hash   uint64
	stored S
	moved  bool
}

type slot[S, V any] struct {
	key atomic.Pointer[keyCell[S]]
	val atomic.Pointer[valCell[V]]
}

// table is one generation of the slot array. next is set at most once,
// and a table whose copyDone reaches len(slots) is ready to be replaced
// by next as the root.
type table[S, V any] struct {
	slots         []slot[S, V]
	mask          uint64
	growThreshold int64
	generation    uint32

	_         cpu.CacheLinePad
	slotsUsed atomic.Int64
	_         cpu.CacheLinePad
	copyIdx   atomic.Int64
	_         cpu.CacheLinePad
	copyDone  atomic.Int64
	next      atomic.Pointer[table[S, V]]
}

func newTable[S, V any](tableLen int, generation uint32) *table[S, V] {
	if tableLen > maxTableLen || tableLen&(tableLen-1) != 0 {
		panic("nbmap: invalid table length")
	}
	return &table[S, V]{
		slots:         make([]slot[S, V], tableLen),
		mask:          uint64(tableLen - 1),
		growThreshold: int64(float64(tableLen) * mapLoadFactor),
		generation:    generation,
	}
}

// reprobeLimit bounds the linear probe for any one key.
func (t *table[S, V]) reprobeLimit() int {
	return min(len(t.slots), 10+len(t.slots)>>2)
}

func (t *table[S, V]) overThreshold() bool {
	return t.slotsUsed.Load() >= t.growThreshold
}

// calcTableLen returns the slot count needed to hold sizeHint live
// entries below the load factor.
func calcTableLen(sizeHint int) int {
	if sizeHint <= 0 {
		return minTableLen
	}
	n := int(float64(sizeHint)/mapLoadFactor) + 1
	if n > maxTableLen || n <= 0 {
		panic("nbmap: table length overflow")
	}
	return max(minTableLen, nextPowOf2(n))
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
// Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
