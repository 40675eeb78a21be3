package table

import (
	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/pkg/types"
)

// Mark marks the entry behind h as live for the current cycle. loc is the
// address of the handle slot h was loaded from; it must still hold h.
//
// While compacting, an entry at or above the evacuation boundary is also
// given a slot below the boundary. That slot receives an evacuation entry
// recording loc, and Sweep later moves the entry there and rewrites the
// slot. If no slot below the boundary is free, compaction is aborted for the
// rest of the cycle.
//
// Mark may run concurrently with mutators and other markers.
func (t *Table) Mark(h types.Handle, loc types.Address) {
	if stored := t.space.LoadHandle(loc); stored != h {
		if stored.Unmarked() == h {
			violation("handle %#x at %#x marked twice", uint32(h), uint64(loc))
		}
		violation("handle slot %#x holds %#x, expected %#x", uint64(loc), uint32(stored), uint32(h))
	}
	index := t.index(h)

	// Read the boundary once. Another marker may abort concurrently, and
	// using a later value could place the evacuation entry above the area
	// being evacuated.
	start := t.startOfEvacuationArea.Load()
	if index >= start {
		if newIndex, ok := t.allocateEvacuationEntry(start); ok {
			// Only sweep looks at this slot again.
			t.store(newIndex, entry.MakeEvacuation(loc))
			markVisited(t.space, loc, h)
			t.stats.evacuations.Add(1)
		} else {
			t.abortCompaction(start, "no free entry below evacuation area")
		}
	}

	// The original entry is marked even when evacuated: it keeps serving
	// reads and writes until sweep moves it.
	old := t.load(index)
	if !old.IsRegular() {
		violation("marking %v entry %d", old.Kind(), index)
	}
	// No retry: if the CAS fails a mutator just stored a fresh entry, and
	// fresh entries are written with the mark bit set.
	t.entries[index].CompareAndSwap(uint64(old), uint64(old.WithMarkBit()))
}
