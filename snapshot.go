package nbmap

import (
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"strings"
)

// Snapshot iterates over the entries of a map as of the moment it was
// taken. Entries added or removed after that moment may or may not be
// observed, but a key is never reported twice and never reported if it
// was absent for the whole iteration. Values reflect the map at or
// after the snapshot point.
//
// A Snapshot is not safe for use by several goroutines at once.
type Snapshot[K, S, V any] struct {
	m     *CodecMap[K, S, V]
	table *table[S, V]
	idx   int

	key   K
	value V
	hash  uint64

	nextKey   K
	nextValue V
	nextHash  uint64
	hasNext   bool
}

// Snapshot finishes any migration in progress and pins the resulting
// root table. It never waits on another goroutine: unfinished slots are
// copied by the caller.
func (m *CodecMap[K, S, V]) Snapshot() *Snapshot[K, S, V] {
	s := &Snapshot[K, S, V]{m: m, table: m.quiescentTable()}
	s.advance()
	return s
}

func (m *CodecMap[K, S, V]) quiescentTable() *table[S, V] {
	for {
		t := m.table.Load()
		if t.next.Load() == nil {
			return t
		}
		m.helpCopyTable(t, true)
	}
}

// Next moves to the next entry and reports whether there was one.
func (s *Snapshot[K, S, V]) Next() bool {
	if !s.hasNext {
		return false
	}
	s.key, s.value, s.hash = s.nextKey, s.nextValue, s.nextHash
	s.advance()
	return true
}

// Key returns the key of the current entry.
func (s *Snapshot[K, S, V]) Key() K {
	return s.key
}

// Value returns the value of the current entry.
func (s *Snapshot[K, S, V]) Value() V {
	return s.value
}

// Reset restarts iteration over the same pinned table.
func (s *Snapshot[K, S, V]) Reset() {
	s.idx = 0
	var zk K
	var zv V
	s.key, s.value, s.hash = zk, zv, 0
	s.advance()
}

// advance looks ahead to the next live slot of the pinned table.
// Slots migrated since the snapshot are resolved in later tables.
func (s *Snapshot[K, S, V]) advance() {
	s.hasNext = false
	t := s.table
	for s.idx < len(t.slots) {
		idx := uint64(s.idx)
		s.idx++

		sl := &t.slots[idx]
		kc := sl.key.Load()
		if kc == nil || kc.moved {
			continue
		}
		key := s.m.codec.Decode(kc.stored)
		vc := sl.val.Load()
		if vc.isPrime() {
			vc = s.m.getImpl(s.m.copySlotAndCheck(t, idx, false), key, kc.hash)
		}
		if !vc.isLive() {
			continue
		}
		s.nextKey, s.nextValue, s.nextHash = key, vc.value, kc.hash
		s.hasNext = true
		return
	}
}

// All returns an iterator over a fresh snapshot of the map.
func (m *CodecMap[K, S, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// Keys is the iterator version for iterating over all keys.
func (m *CodecMap[K, S, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.Range(func(key K, _ V) bool {
			return yield(key)
		})
	}
}

// Values is the iterator version for iterating over all values.
func (m *CodecMap[K, S, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		m.Range(func(_ K, value V) bool {
			return yield(value)
		})
	}
}

// Range calls yield for each entry of a fresh snapshot until yield
// returns false. yield may modify the map.
func (m *CodecMap[K, S, V]) Range(yield func(key K, value V) bool) {
	for s := m.Snapshot(); s.Next(); {
		if !yield(s.Key(), s.Value()) {
			return
		}
	}
}

// ToMap collect all entries and return a map[K]V
func (m *Map[K, V]) ToMap() map[K]V {
	return m.ToMapWithLimit(-1)
}

// ToMapWithLimit collect up to limit entries into a map[K]V, limit < 0 is no limit
func (m *Map[K, V]) ToMapWithLimit(limit int) map[K]V {
	if limit == 0 {
		return map[K]V{}
	}
	if limit < 0 {
		limit = math.MaxInt
	}
	a := make(map[K]V, min(m.Count(), limit))
	m.Range(func(key K, value V) bool {
		a[key] = value
		limit--
		return limit > 0
	})
	return a
}

// FromMap stores every entry of a into the map.
func (m *Map[K, V]) FromMap(a map[K]V) {
	for k, v := range a {
		m.Store(k, v)
	}
}

// String implement the formatting output interface fmt.Stringer
func (m *Map[K, V]) String() string {
	const limit = 1024
	return strings.Replace(fmt.Sprint(m.ToMapWithLimit(limit)), "map[", "Map[", 1)
}

var (
	jsonMarshal   func(v any) ([]byte, error)
	jsonUnmarshal func(data []byte, v any) error
)

// SetDefaultJSONMarshal sets the default JSON serialization and deserialization functions.
// If not set, the standard library is used by default.
func SetDefaultJSONMarshal(marshal func(v any) ([]byte, error), unmarshal func(data []byte, v any) error) {
	jsonMarshal, jsonUnmarshal = marshal, unmarshal
}

// MarshalJSON JSON serialization
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	if jsonMarshal != nil {
		return jsonMarshal(m.ToMap())
	}
	return json.Marshal(m.ToMap())
}

// UnmarshalJSON JSON deserialization. A Map that was never initialized
// is set up with default options first.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	var a map[K]V
	if jsonUnmarshal != nil {
		if err := jsonUnmarshal(data, &a); err != nil {
			return err
		}
	} else {
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
	}
	if m.table.Load() == nil {
		m.init(defaultHasher[K](), identityCodec[K]{}, WithPresize(len(a)))
	}
	m.FromMap(a)
	return nil
}
