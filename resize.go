package nbmap

// resize returns t's successor table, allocating and installing one if
// t has none yet. Concurrent callers race to install; losers drop their
// allocation and use the winner's.
func (m *CodecMap[K, S, V]) resize(t *table[S, V]) *table[S, V] {
	if next := t.next.Load(); next != nil {
		return next
	}

	oldLen := len(t.slots)
	live := m.Count()
	newLen := max(calcTableLen(live*2), m.minTableLen)
	if newLen <= oldLen && live >= oldLen>>2 {
		// Probe clusters, not tombstones, filled this table.
		newLen = oldLen << 1
	}
	if newLen > maxTableLen {
		panic("nbmap: table length overflow")
	}

	if next := t.next.Load(); next != nil {
		return next
	}
	nt := newTable[S, V](newLen, t.generation+1)
	if t.next.CompareAndSwap(nil, nt) {
		m.totalGrowths.Add(1)
		m.logger.Debug("resize started",
			"generation", nt.generation,
			"old_len", oldLen,
			"new_len", newLen,
			"live", live)
		return nt
	}
	return t.next.Load()
}

// helpCopy moves one chunk of the root table into its successor, if a
// migration is in progress.
func (m *CodecMap[K, S, V]) helpCopy() {
	if t := m.table.Load(); t.next.Load() != nil {
		m.helpCopyTable(t, false)
	}
}

// helpCopyTable migrates old into old.next. A helper claims one chunk
// by advancing copyIdx and returns once it is copied. When copyAll is
// set, or every chunk has already been handed out twice, the helper
// instead makes one pass over the whole table. copySlot leaves each slot
// it visits fully migrated, so after that pass old can be promoted
// without waiting for other helpers to report their work.
func (m *CodecMap[K, S, V]) helpCopyTable(old *table[S, V], copyAll bool) {
	next := old.next.Load()
	oldLen := int64(len(old.slots))
	if old.copyDone.Load() >= oldLen {
		m.copyCheckAndPromote(old, 0)
		return
	}

	if !copyAll {
		chunk := min(oldLen, copyChunkSlots)
		copyIdx := old.copyIdx.Load()
		for copyIdx < oldLen<<1 && !old.copyIdx.CompareAndSwap(copyIdx, copyIdx+chunk) {
			copyIdx = old.copyIdx.Load()
		}
		if copyIdx < oldLen<<1 {
			m.copyRange(old, next, copyIdx, chunk)
			return
		}
	}

	m.copyRange(old, next, 0, oldLen)
	m.promote(old, next)
}

// copyRange migrates n slots of old starting at start (wrapping) and
// accounts for the ones this caller finished.
func (m *CodecMap[K, S, V]) copyRange(old, next *table[S, V], start, n int64) {
	workdone := 0
	for i := int64(0); i < n; i++ {
		if m.copySlot(old, uint64(start+i)&old.mask, next) {
			workdone++
		}
	}
	if workdone > 0 {
		m.copyCheckAndPromote(old, workdone)
	}
}

// copySlotAndCheck migrates one slot of t and returns t.next. With
// shouldHelp set, the caller also pays for a chunk of the root table.
func (m *CodecMap[K, S, V]) copySlotAndCheck(t *table[S, V], idx uint64, shouldHelp bool) *table[S, V] {
	next := t.next.Load()
	if m.copySlot(t, idx, next) {
		m.copyCheckAndPromote(t, 1)
	}
	if shouldHelp {
		m.helpCopy()
	}
	return next
}

// copySlot migrates slot idx of old into next. It returns true for
// exactly one caller per slot: the one whose action finished the slot.
func (m *CodecMap[K, S, V]) copySlot(old *table[S, V], idx uint64, next *table[S, V]) bool {
	s := &old.slots[idx]

	kc := s.key.Load()
	for kc == nil {
		if s.key.CompareAndSwap(nil, m.movedKey) {
			kc = m.movedKey
			break
		}
		kc = s.key.Load()
	}

	vc := s.val.Load()
	for !vc.isPrime() {
		boxed := m.tombPrime
		if vc.isLive() {
			boxed = &valCell[V]{kind: primeCell, inner: vc}
		}
		if s.val.CompareAndSwap(vc, boxed) {
			if boxed == m.tombPrime {
				// Nothing to carry over.
				return true
			}
			vc = boxed
			break
		}
		vc = s.val.Load()
	}
	if vc == m.tombPrime {
		return false
	}

	var key K
	copied := m.putIfMatch(next, kc.hash, key, kc, vc.inner, matchEmpty, nil) == nil

	for vc != m.tombPrime && !s.val.CompareAndSwap(vc, m.tombPrime) {
		vc = s.val.Load()
	}
	return copied
}

// copyCheckAndPromote records workdone migrated slots of old and, once
// all of them are accounted for, makes old.next the root.
func (m *CodecMap[K, S, V]) copyCheckAndPromote(old *table[S, V], workdone int) {
	oldLen := int64(len(old.slots))
	copyDone := old.copyDone.Load()
	if workdone > 0 {
		copyDone = old.copyDone.Add(int64(workdone))
		if copyDone > oldLen {
			panic("nbmap: migrated more slots than the table holds")
		}
	}
	if copyDone == oldLen {
		m.promote(old, old.next.Load())
	}
}

// promote replaces old with next as the root. The caller must know
// every slot of old is migrated.
func (m *CodecMap[K, S, V]) promote(old, next *table[S, V]) {
	if m.table.CompareAndSwap(old, next) {
		m.copiedSlots.Add(uint64(len(old.slots)))
		m.logger.Debug("resize finished",
			"generation", next.generation,
			"len", len(next.slots))
	}
}
