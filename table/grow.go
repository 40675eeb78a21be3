package table

import (
	"fmt"

	"github.com/joshuapare/eptable/internal/entry"
)

// grow commits one more block of entries, threads it into a freelist chain
// and publishes the chain's head. The freelist must be empty and t.mu held.
//
// The chain is built in ascending index order so the freelist stays sorted,
// which compaction relies on to place evacuated entries at the front.
func (t *Table) grow() (uint32, error) {
	oldCapacity := t.capacity.Load()
	newCapacity := oldCapacity + t.blockSize
	if newCapacity > t.maxCapacity || newCapacity < oldCapacity {
		return 0, fmt.Errorf("%w: capacity %d, max %d", ErrTableFull, oldCapacity, t.maxCapacity)
	}

	if err := t.region.Commit(int(oldCapacity)*entrySize, int(t.blockSize)*entrySize); err != nil {
		return 0, fmt.Errorf("table: grow to %d entries: %w", newCapacity, err)
	}

	start := oldCapacity
	if start == 0 {
		// Entry 0 backs the null handle and is never handed out.
		t.store(0, entry.Entry(0))
		start = 1
	}
	last := newCapacity - 1
	for i := start; i < last; i++ {
		t.store(i, entry.MakeFreelist(i+1, last-i+1))
	}
	t.store(last, entry.MakeFreelist(0, 1))

	// Capacity first: a goroutine that sees the new head must also pass the
	// bounds check for it. The head store publishes the chain written above
	// to goroutines that load the head.
	t.capacity.Store(newCapacity)
	t.freelistHead.Store(start)

	t.stats.grows.Add(1)
	t.log.Debug("table grown",
		"old_capacity", oldCapacity,
		"new_capacity", newCapacity,
		"free", newCapacity-start)
	if t.onGrow != nil {
		t.onGrow(oldCapacity, newCapacity)
	}
	return start, nil
}
