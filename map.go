package nbmap

import (
	"runtime"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// CodecMap is a non-blocking concurrent hash map whose keys are kept
// inside the table in a stored form S produced by a KeyCodec.
//
// Every operation completes in a bounded number of its own steps no
// matter how other goroutines are scheduled: there are no locks, and
// writers that run into a resize copy the slots they need and help
// migrate the rest instead of waiting for it.
//
// Key features of nbmap.CodecMap:
//   - Open addressing with linear probing over a power-of-two slot array
//   - Incremental cooperative resize; Load never blocks on a migration
//   - Linearizable snapshot iteration (see Snapshot)
//   - Exact Count once the map is quiescent
//   - Pluggable key storage and hashing
//
// Zero values, including nil pointers and empty structs, are ordinary
// values and are distinguishable from absent keys.
//
// A CodecMap must be created with NewCodecMap (or NewMap for a Map)
// and must not be copied after first use.
type CodecMap[K, S, V any] struct {
	_ noCopy

	table atomic.Pointer[table[S, V]]

	hash  func(K) uint64
	codec KeyCodec[K, S]

	size     []counterStripe
	sizeMask uint64

	tomb      *valCell[V]
	tombPrime *valCell[V]
	movedKey  *keyCell[S]

	minTableLen int
	logger      hclog.Logger

	totalGrowths atomic.Uint32
	copiedSlots  atomic.Uint64
}

// Map is a CodecMap for comparable keys stored as they are.
type Map[K comparable, V any] struct {
	CodecMap[K, K, V]
}

// MapConfig defines configurable map options.
type MapConfig struct {
	sizeHint int
	logger   hclog.Logger
}

// WithPresize configures a new map with capacity enough to hold
// sizeHint entries. The capacity is treated as the minimal capacity
// meaning that the table will never shrink below it. If sizeHint is
// zero or negative, the value is ignored.
func WithPresize(sizeHint int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.sizeHint = sizeHint
	}
}

// WithLogger attaches a logger that receives resize events at Debug
// level. A nil logger disables logging.
func WithLogger(logger hclog.Logger) func(*MapConfig) {
	return func(c *MapConfig) {
		c.logger = logger
	}
}

// NewMap creates a new Map instance configured with the given options.
func NewMap[K comparable, V any](options ...func(*MapConfig)) *Map[K, V] {
	m := &Map[K, V]{}
	m.init(defaultHasher[K](), identityCodec[K]{}, options...)
	return m
}

// NewMapWithHasher creates a Map with a custom key hash and, optionally,
// a custom key equality. Keys that are equal must hash equally. A nil
// keyEqual falls back to ==.
func NewMapWithHasher[K comparable, V any](
	keyHash func(key K) uint64,
	keyEqual func(a, b K) bool,
	options ...func(*MapConfig),
) *Map[K, V] {
	if keyHash == nil {
		keyHash = defaultHasher[K]()
	}
	m := &Map[K, V]{}
	if keyEqual == nil {
		m.init(keyHash, identityCodec[K]{}, options...)
	} else {
		m.init(keyHash, equalCodec[K]{equal: keyEqual}, options...)
	}
	return m
}

// NewCodecMap creates a map whose keys are stored through codec and
// hashed with keyHash.
func NewCodecMap[K, S, V any](
	keyHash func(key K) uint64,
	codec KeyCodec[K, S],
	options ...func(*MapConfig),
) *CodecMap[K, S, V] {
	if keyHash == nil || codec == nil {
		panic("nbmap: NewCodecMap requires a hash function and a codec")
	}
	m := &CodecMap[K, S, V]{}
	m.init(keyHash, codec, options...)
	return m
}

// NewBytesMap creates a map keyed by byte slices. Keys are copied into
// the map and hashed with xxHash64.
func NewBytesMap[V any](options ...func(*MapConfig)) *CodecMap[[]byte, string, V] {
	return NewCodecMap[[]byte, string, V](XXHashBytes, BytesCodec{}, options...)
}

func (m *CodecMap[K, S, V]) init(
	keyHash func(K) uint64,
	codec KeyCodec[K, S],
	options ...func(*MapConfig),
) {
	c := &MapConfig{}
	for _, o := range options {
		o(c)
	}

	m.hash = keyHash
	m.codec = codec
	m.logger = c.logger
	if m.logger == nil {
		m.logger = hclog.NewNullLogger()
	}

	m.tomb = &valCell[V]{kind: tombstoneCell}
	m.tombPrime = &valCell[V]{kind: primeCell, inner: m.tomb}
	m.movedKey = &keyCell[S]{moved: true}

	sizeLen := calcSizeLen(runtime.GOMAXPROCS(0))
	m.size = make([]counterStripe, sizeLen)
	m.sizeMask = uint64(sizeLen - 1)

	m.minTableLen = calcTableLen(c.sizeHint)
	m.table.Store(newTable[S, V](m.minTableLen, 0))
}

// matchKind selects the precondition putIfMatch checks against the
// slot's current value before installing a new one.
type matchKind uint8

const (
	matchAny     matchKind = iota // unconditional upsert
	matchAbsent                   // Empty or Tombstone
	matchEmpty                    // Empty only; used by migration
	matchPresent                  // a live value
	matchSame                     // exactly the expected cell
)

func (m *CodecMap[K, S, V]) matches(vc *valCell[V], match matchKind, expected *valCell[V]) bool {
	switch match {
	case matchAny:
		return true
	case matchAbsent:
		return !vc.isLive()
	case matchEmpty:
		return vc == nil
	case matchPresent:
		return vc.isLive()
	default:
		return vc == expected
	}
}

func (m *CodecMap[K, S, V]) keyMatches(kc *keyCell[S], hash uint64, key K) bool {
	return !kc.moved && kc.hash == hash && m.codec.Matches(kc.stored, key)
}

// getImpl returns the live value cell for key, or nil.
func (m *CodecMap[K, S, V]) getImpl(t *table[S, V], key K, hash uint64) *valCell[V] {
	for t != nil {
		idx := hash & t.mask
		limit := t.reprobeLimit()
		var next *table[S, V]
		for probes := 0; ; probes++ {
			s := &t.slots[idx]
			kc := s.key.Load()
			if kc == nil {
				return nil
			}
			if m.keyMatches(kc, hash, key) {
				vc := s.val.Load()
				if !vc.isPrime() {
					if vc.isLive() {
						return vc
					}
					return nil
				}
				next = m.copySlotAndCheck(t, idx, false)
				break
			}
			if kc.moved || probes+1 >= limit {
				next = t.next.Load()
				break
			}
			idx = (idx + 1) & t.mask
		}
		t = next
	}
	return nil
}

// putIfMatch installs put in the slot for key when the slot's current
// value satisfies match, and returns the value cell it found there
// (nil for Empty). The caller compares the result with its condition
// to learn whether the write happened.
//
// kc0 is non-nil only when a migration re-inserts an existing key; the
// destination then shares the source's key cell, and key is decoded
// from it only if another cell with the same hash has to be compared.
func (m *CodecMap[K, S, V]) putIfMatch(
	t *table[S, V],
	hash uint64,
	key K,
	kc0 *keyCell[S],
	put *valCell[V],
	match matchKind,
	expected *valCell[V],
) *valCell[V] {
	mayClaim := put.kind != tombstoneCell &&
		(match == matchAny || match == matchAbsent || match == matchEmpty)
	copying := match == matchEmpty
	decoded := false

	for {
		idx := hash & t.mask
		limit := t.reprobeLimit()
		var s *slot[S, V]
		found, claimed := false, false
		for probes := 0; probes < limit; probes++ {
			s = &t.slots[idx]
			kc := s.key.Load()
			if kc == nil {
				if !mayClaim {
					return nil
				}
				nk := kc0
				if nk == nil {
					nk = &keyCell[S]{hash: hash, stored: m.codec.Encode(key)}
				}
				if s.key.CompareAndSwap(nil, nk) {
					t.slotsUsed.Add(1)
					found, claimed = true, true
					break
				}
				kc = s.key.Load()
			}
			var matched bool
			switch {
			case kc0 == nil:
				matched = m.keyMatches(kc, hash, key)
			case kc == kc0:
				matched = true
			case !kc.moved && kc.hash == hash:
				if !decoded {
					key, decoded = m.codec.Decode(kc0.stored), true
				}
				matched = m.codec.Matches(kc.stored, key)
			}
			if matched {
				found = true
				break
			}
			if kc.moved {
				break
			}
			idx = (idx + 1) & t.mask
		}

		if !found {
			if !mayClaim {
				// Only a successor can still hold the key.
				if t = t.next.Load(); t == nil {
					return nil
				}
				continue
			}
			next := m.resize(t)
			if !copying {
				m.helpCopy()
			}
			t = next
			continue
		}

		vc := s.val.Load()
		if t.next.Load() == nil && claimed && t.overThreshold() {
			m.resize(t)
		}
		if t.next.Load() != nil || vc.isPrime() {
			t = m.copySlotAndCheck(t, idx, !copying)
			continue
		}

		for {
			if !m.matches(vc, match, expected) {
				return vc
			}
			if s.val.CompareAndSwap(vc, put) {
				if !copying {
					m.updateSize(hash, vc, put)
				}
				return vc
			}
			vc = s.val.Load()
			if vc.isPrime() {
				break
			}
		}
		t = m.copySlotAndCheck(t, idx, !copying)
	}
}

func (m *CodecMap[K, S, V]) updateSize(hash uint64, prev, put *valCell[V]) {
	switch wasLive, isLive := prev.isLive(), put.isLive(); {
	case !wasLive && isLive:
		m.addSize(hash, 1)
	case wasLive && !isLive:
		m.addSize(hash, -1)
	}
}

func (m *CodecMap[K, S, V]) newValue(value V) *valCell[V] {
	return &valCell[V]{kind: valueCell, value: value}
}

// Load returns the value stored in the map for a key, or the zero
// value if no value is present. The ok result indicates whether the
// value was found in the map.
func (m *CodecMap[K, S, V]) Load(key K) (value V, ok bool) {
	if vc := m.getImpl(m.table.Load(), key, m.hash(key)); vc != nil {
		return vc.value, true
	}
	return value, false
}

// ContainsKey reports whether key has a live value.
func (m *CodecMap[K, S, V]) ContainsKey(key K) bool {
	return m.getImpl(m.table.Load(), key, m.hash(key)) != nil
}

// Store sets the value for a key.
func (m *CodecMap[K, S, V]) Store(key K, value V) {
	m.putIfMatch(m.table.Load(), m.hash(key), key, nil, m.newValue(value), matchAny, nil)
}

// Put sets the value for a key and returns the value it replaced.
// The loaded result reports whether a previous value existed.
func (m *CodecMap[K, S, V]) Put(key K, value V) (previous V, loaded bool) {
	prev := m.putIfMatch(m.table.Load(), m.hash(key), key, nil, m.newValue(value), matchAny, nil)
	if prev.isLive() {
		return prev.value, true
	}
	return previous, false
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *CodecMap[K, S, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	hash := m.hash(key)
	t := m.table.Load()
	if vc := m.getImpl(t, key, hash); vc != nil {
		return vc.value, true
	}
	prev := m.putIfMatch(t, hash, key, nil, m.newValue(value), matchAbsent, nil)
	if prev.isLive() {
		return prev.value, true
	}
	return value, false
}

// PutIfAbsent stores value only when key has no live value, and
// returns the value that blocked the store, if any.
func (m *CodecMap[K, S, V]) PutIfAbsent(key K, value V) (previous V, loaded bool) {
	prev := m.putIfMatch(m.table.Load(), m.hash(key), key, nil, m.newValue(value), matchAbsent, nil)
	if prev.isLive() {
		return prev.value, true
	}
	return previous, false
}

// Replace sets the value for key only if a live value is present and
// returns the value it replaced.
func (m *CodecMap[K, S, V]) Replace(key K, value V) (previous V, replaced bool) {
	prev := m.putIfMatch(m.table.Load(), m.hash(key), key, nil, m.newValue(value), matchPresent, nil)
	if prev.isLive() {
		return prev.value, true
	}
	return previous, false
}

// Remove deletes the value for a key and returns it. The removed
// result reports whether a live value was present.
func (m *CodecMap[K, S, V]) Remove(key K) (previous V, removed bool) {
	prev := m.putIfMatch(m.table.Load(), m.hash(key), key, nil, m.tomb, matchPresent, nil)
	if prev.isLive() {
		return prev.value, true
	}
	return previous, false
}

// LoadAndDelete is Remove under its sync.Map name.
func (m *CodecMap[K, S, V]) LoadAndDelete(key K) (value V, loaded bool) {
	return m.Remove(key)
}

// Delete deletes the value for a key.
func (m *CodecMap[K, S, V]) Delete(key K) {
	m.Remove(key)
}

// Count returns the number of live entries. It is exact when no
// mutation is in flight and an estimate otherwise.
func (m *CodecMap[K, S, V]) Count() int {
	return int(max(m.sumSize(), 0))
}

// IsEmpty reports whether Count is zero.
func (m *CodecMap[K, S, V]) IsEmpty() bool {
	return m.sumSize() <= 0
}

// Clear removes every key present when it starts. Keys inserted
// concurrently may survive.
func (m *CodecMap[K, S, V]) Clear() {
	s := m.Snapshot()
	for s.Next() {
		m.putIfMatch(m.table.Load(), s.hash, s.Key(), nil, m.tomb, matchPresent, nil)
	}
}

// noCopy may be added to structs which must not be copied
// after the first use. See go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
