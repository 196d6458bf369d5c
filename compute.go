package nbmap

type ComputeOp int

const (
	// CancelOp signals to Compute to not do anything as a result
	// of executing the lambda. If the entry was not present in
	// the map, nothing happens, and if it was present, the
	// returned value is ignored.
	CancelOp ComputeOp = iota
	// UpdateOp signals to Compute to update the entry to the
	// value returned by the lambda, creating it if necessary.
	UpdateOp
	// DeleteOp signals to Compute to always delete the entry
	// from the map.
	DeleteOp
)

// Compute either sets the computed new value for the key,
// deletes the value for the key, or does nothing, based on
// the returned [ComputeOp]. When the op returned by valueFn
// is [UpdateOp], the value is updated to the new value. If
// it is [DeleteOp], the entry is removed from the map
// altogether. And finally, if the op is [CancelOp] then the
// entry is left as-is.
//
// valueFn runs without any lock held and may run more than once
// if another goroutine changes the entry in between; only the
// result of the last run is applied. It must not modify the map.
//
// The actual result is the value after the call (the old value for
// CancelOp and DeleteOp). The ok result reports whether the key
// has a value after the call.
func (m *CodecMap[K, S, V]) Compute(
	key K,
	valueFn func(oldValue V, loaded bool) (newValue V, op ComputeOp),
) (actual V, ok bool) {
	hash := m.hash(key)
	for {
		t := m.table.Load()
		cur := m.getImpl(t, key, hash)
		var oldValue V
		loaded := cur != nil
		if loaded {
			oldValue = cur.value
		}

		newValue, op := valueFn(oldValue, loaded)
		switch op {
		case UpdateOp:
			put := m.newValue(newValue)
			if loaded {
				if m.putIfMatch(t, hash, key, nil, put, matchSame, cur) == cur {
					return newValue, true
				}
			} else if !m.putIfMatch(t, hash, key, nil, put, matchAbsent, nil).isLive() {
				return newValue, true
			}
		case DeleteOp:
			if !loaded {
				return oldValue, false
			}
			if m.putIfMatch(t, hash, key, nil, m.tomb, matchSame, cur) == cur {
				return oldValue, false
			}
		default:
			return oldValue, loaded
		}
	}
}

// CompareAndSwap swaps the old and new values for key
// if the value stored in the map is equal to old.
func CompareAndSwap[K, V comparable](m *Map[K, V], key K, old, new V) (swapped bool) {
	hash := m.hash(key)
	for {
		t := m.table.Load()
		cur := m.getImpl(t, key, hash)
		if cur == nil || cur.value != old {
			return false
		}
		if m.putIfMatch(t, hash, key, nil, m.newValue(new), matchSame, cur) == cur {
			return true
		}
	}
}

// CompareAndDelete deletes the entry for key if its value is equal to old.
func CompareAndDelete[K, V comparable](m *Map[K, V], key K, old V) (deleted bool) {
	hash := m.hash(key)
	for {
		t := m.table.Load()
		cur := m.getImpl(t, key, hash)
		if cur == nil || cur.value != old {
			return false
		}
		if m.putIfMatch(t, hash, key, nil, m.tomb, matchSame, cur) == cur {
			return true
		}
	}
}
