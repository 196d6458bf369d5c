package nbmap

import (
	"fmt"
	"strings"
)

// MapStats is map statistics.
//
// Warning: map statistics are intented to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// TableLen is the number of slots in the root table.
	TableLen int
	// Capacity is the number of live entries the root table holds
	// before it asks for a resize.
	Capacity int
	// SlotsUsed is the number of claimed key slots in the root table,
	// tombstoned ones included.
	SlotsUsed int
	// Tombstones is the number of root slots whose key was removed.
	Tombstones int
	// Size is the exact number of entries found by scanning the map.
	Size int
	// Counter is the number of entries according to the striped
	// counter. Under concurrent modification it may differ from Size.
	Counter int
	// CounterLen is the number of counter stripes.
	CounterLen int
	// Generation counts the tables the map has gone through.
	Generation uint32
	// TotalGrowths is the number of resizes started.
	TotalGrowths uint32
	// CopiedSlots is the number of slots migrated by finished resizes.
	CopiedSlots uint64
}

// Stats returns statistics for the map. It finishes any migration in
// progress first, so the figures describe a single table.
func (m *CodecMap[K, S, V]) Stats() *MapStats {
	t := m.quiescentTable()
	stats := &MapStats{
		TableLen:     len(t.slots),
		Capacity:     int(t.growThreshold),
		SlotsUsed:    int(t.slotsUsed.Load()),
		Counter:      m.Count(),
		CounterLen:   len(m.size),
		Generation:   t.generation,
		TotalGrowths: m.totalGrowths.Load(),
		CopiedSlots:  m.copiedSlots.Load(),
	}
	for i := range t.slots {
		if t.slots[i].val.Load() == m.tomb {
			stats.Tombstones++
		}
	}
	snap := &Snapshot[K, S, V]{m: m, table: t}
	for snap.advance(); snap.Next(); {
		stats.Size++
	}
	return stats
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("TableLen:     %d\n", s.TableLen))
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("SlotsUsed:    %d\n", s.SlotsUsed))
	sb.WriteString(fmt.Sprintf("Tombstones:   %d\n", s.Tombstones))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("CounterLen:   %d\n", s.CounterLen))
	sb.WriteString(fmt.Sprintf("Generation:   %d\n", s.Generation))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("CopiedSlots:  %d\n", s.CopiedSlots))
	sb.WriteString("}\n")
	return sb.String()
}
