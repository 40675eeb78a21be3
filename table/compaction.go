package table

import (
	"fmt"
)

const (
	// NotCompactingMarker is the evacuation boundary while Idle.
	NotCompactingMarker uint32 = 0xFFFFFFFF

	// CompactionAbortedMarker is OR-ed into the boundary when compaction is
	// aborted. Boundaries are below types.MaxEntries, so the bits are free.
	// The marked value is larger than any index, which stops further
	// evacuation while keeping the boundary readable for sweep.
	CompactionAbortedMarker uint32 = 0xF0000000
)

// Phase is the compaction state of a table within one GC cycle.
type Phase uint8

const (
	Idle Phase = iota
	Compacting
	CompactionAborted
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Compacting:
		return "compacting"
	case CompactionAborted:
		return "compaction-aborted"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// IsCompacting reports whether an evacuation boundary is set, aborted or not.
func (t *Table) IsCompacting() bool {
	return t.startOfEvacuationArea.Load() != NotCompactingMarker
}

// CompactionAbortedDuringMarking reports whether compaction was aborted this
// cycle.
func (t *Table) CompactionAbortedDuringMarking() bool {
	v := t.startOfEvacuationArea.Load()
	return v != NotCompactingMarker && v&CompactionAbortedMarker == CompactionAbortedMarker
}

// Phase returns the current compaction state.
func (t *Table) Phase() Phase {
	switch v := t.startOfEvacuationArea.Load(); {
	case v == NotCompactingMarker:
		return Idle
	case v&CompactionAbortedMarker == CompactionAbortedMarker:
		return CompactionAborted
	default:
		return Compacting
	}
}

// StartOfEvacuationArea returns the evacuation boundary with any abort
// marker removed, or NotCompactingMarker while Idle.
func (t *Table) StartOfEvacuationArea() uint32 {
	v := t.startOfEvacuationArea.Load()
	if v == NotCompactingMarker {
		return v
	}
	return v &^ CompactionAbortedMarker
}

// StartCompaction sets the evacuation boundary for the coming marking phase.
// Entries at or above boundary will be evacuated below it. It must be called
// before marking starts, while the table is Idle. Mutators may keep
// allocating. When no free entry is left below the boundary the table goes
// straight to CompactionAborted.
func (t *Table) StartCompaction(boundary uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startCompactionLocked(boundary)
}

func (t *Table) startCompactionLocked(boundary uint32) error {
	capacity := t.capacity.Load()
	if boundary == 0 || boundary >= capacity {
		return fmt.Errorf("%w: %d (capacity %d)", ErrBadBoundary, boundary, capacity)
	}
	if !t.startOfEvacuationArea.CompareAndSwap(NotCompactingMarker, boundary) {
		return ErrCompacting
	}
	t.stats.compactions.Add(1)
	t.log.Info("compaction started",
		"boundary", boundary,
		"capacity", capacity,
		"evacuate_entries", capacity-boundary)

	// Allocations that loaded the boundary before it was published skipped
	// their abort check. The freelist is sorted and only shrinks from the
	// front between sweeps, so every such allocation took an index below the
	// head observed here.
	if head := t.freelistHead.Load(); head == 0 || head >= boundary {
		t.abortCompaction(boundary, "no free entry below boundary")
	}
	return nil
}

// StartCompactingIfNeeded starts compaction when enough of the table is
// free. It evacuates up to half of the free entries, rounded down to whole
// blocks, from the end of the table. It reports whether compaction started.
//
// After a sweep the freelist is sorted by index, so every live entry above
// the boundary is guaranteed a free slot below it unless mutators consume
// the freelist during marking.
func (t *Table) StartCompactingIfNeeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.IsCompacting() {
		return false
	}
	capacity := t.capacity.Load()
	if capacity == 0 || capacity < t.minCompactionCapacity {
		return false
	}
	free := t.FreelistSize()
	ratio := float64(free) / float64(capacity)
	blocks := (free / 2) / t.blockSize
	if ratio < t.freeRatio || blocks == 0 {
		return false
	}
	boundary := capacity - blocks*t.blockSize
	return t.startCompactionLocked(boundary) == nil
}

// StopCompacting returns the table to Idle without sweeping. Evacuation
// entries written so far are left in place, so this is only safe before
// marking starts.
func (t *Table) StopCompacting() {
	t.startOfEvacuationArea.Store(NotCompactingMarker)
}

// abortCompaction moves the table to CompactionAborted. Only the goroutine
// that performs the transition logs it.
func (t *Table) abortCompaction(start uint32, reason string) {
	old := t.startOfEvacuationArea.Or(CompactionAbortedMarker)
	if old == NotCompactingMarker || old&CompactionAbortedMarker == CompactionAbortedMarker {
		return
	}
	t.stats.aborts.Add(1)
	t.log.Info("compaction aborted", "boundary", start, "reason", reason)
}
