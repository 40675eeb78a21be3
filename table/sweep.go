package table

import (
	"time"

	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/pkg/types"
)

// SweepResult summarizes one Sweep.
type SweepResult struct {
	Live           uint32 // entries kept
	Free           uint32 // entries on the rebuilt freelist
	Resolved       uint32 // evacuation entries resolved
	Dropped        uint32 // marked entries above the boundary that no root reached
	CapacityBefore uint32
	CapacityAfter  uint32
	Compacted      bool // compaction completed and the table shrank
	Aborted        bool // compaction was aborted during marking
	Duration       time.Duration
}

// Sweep ends a GC cycle. It must run after marking has finished, with no
// mutator or marker touching the table.
//
// Evacuation entries are resolved first: the marked original is copied into
// the evacuation slot, the handle slot is rewritten to point at it, and the
// original is left unmarked. Then the table is walked from the top down;
// unmarked entries become freelist nodes and marked ones have the mark bit
// cleared. Walking downwards leaves the freelist sorted by index.
//
// After a successful compaction everything at or above the boundary is
// dead or moved, so the capacity shrinks to the boundary and those pages are
// returned to the system. An entry up there can still carry the mark bit when
// it was allocated or written since the last sweep and then became
// unreachable; it is garbage like the rest. The table is left Idle.
func (t *Table) Sweep() SweepResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	began := time.Now()
	capacity := t.capacity.Load()
	res := SweepResult{CapacityBefore: capacity, CapacityAfter: capacity}

	boundary := capacity
	compacted := false
	if raw := t.startOfEvacuationArea.Load(); raw != NotCompactingMarker {
		if raw&CompactionAbortedMarker == CompactionAbortedMarker {
			boundary = raw &^ CompactionAbortedMarker
			res.Aborted = true
		} else {
			boundary = raw
			compacted = true
		}
		t.startOfEvacuationArea.Store(NotCompactingMarker)
	}

	if capacity == 0 {
		return res
	}

	// Evacuation entries only ever live below the boundary.
	for i := uint32(1); i < min(boundary, capacity); i++ {
		if e := t.load(i); e.IsEvacuation() {
			t.resolveEvacuationEntry(i, e.HandleLocation(), boundary)
			res.Resolved++
		}
	}

	end := capacity
	if compacted {
		end = boundary
		for i := boundary; i < capacity; i++ {
			e := t.load(i)
			if e.IsEvacuation() {
				violation("evacuation entry %d inside evacuation area", i)
			}
			if e.IsRegular() && e.IsMarked() {
				res.Dropped++
			}
		}
	}

	var head, size uint32
	for i := end - 1; i > 0; i-- {
		e := t.load(i)
		if e.IsEvacuation() {
			violation("unresolved evacuation entry %d", i)
		}
		if e.IsRegular() && e.IsMarked() {
			t.store(i, e.WithoutMarkBit())
			res.Live++
			continue
		}
		size++
		t.store(i, entry.MakeFreelist(head, size))
		head = i
	}
	t.freelistHead.Store(head)
	res.Free = size

	if compacted {
		t.capacity.Store(end)
		if err := t.region.Decommit(int(end)*entrySize, int(capacity-end)*entrySize); err != nil {
			t.log.Warn("decommit after compaction failed", "error", err)
		}
		res.CapacityAfter = end
		res.Compacted = true
	}

	res.Duration = time.Since(began)
	t.stats.sweeps.Add(1)
	t.log.Debug("table swept",
		"live", res.Live,
		"free", res.Free,
		"resolved", res.Resolved,
		"dropped", res.Dropped,
		"capacity_before", res.CapacityBefore,
		"capacity_after", res.CapacityAfter,
		"compacted", res.Compacted,
		"aborted", res.Aborted,
		"duration", res.Duration)
	return res
}

// resolveEvacuationEntry moves the entry referenced by the handle at loc into
// newIndex and points the handle slot at it.
func (t *Table) resolveEvacuationEntry(newIndex uint32, loc types.Address, boundary uint32) {
	old := t.space.LoadHandle(loc).Unmarked()
	oldIndex := old.Index()
	if oldIndex < boundary || oldIndex >= t.capacity.Load() {
		violation("evacuation entry %d: handle %#x at %#x outside evacuation area", newIndex, uint32(old), uint64(loc))
	}
	e := t.load(oldIndex)
	if !e.IsRegular() || !e.IsMarked() {
		violation("evacuation entry %d: source %d is not a live entry", newIndex, oldIndex)
	}
	t.store(newIndex, e)
	t.store(oldIndex, e.WithoutMarkBit())
	t.space.StoreHandle(loc, types.HandleFromIndex(newIndex))
}
