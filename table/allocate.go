package table

import (
	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/pkg/types"
)

// Allocate claims a free entry, initializes it with value and tag, and
// returns its handle. The tag must carry the mark bit. The returned handle
// may be used from any goroutine without further synchronization.
//
// The common path is a lock-free pop off the freelist. Only when the freelist
// is empty does Allocate take the growth lock, and it re-checks the freelist
// under the lock so that concurrent callers grow the table once.
func (t *Table) Allocate(value uint64, tag types.Tag) (types.Handle, error) {
	requireMarkedTag(tag)
	e := entry.MakeRegular(value, tag)

	for {
		head := t.freelistHead.Load()
		if head == 0 {
			var err error
			if head, err = t.growIfEmpty(); err != nil {
				return types.NullHandle, err
			}
		}
		if !t.tryAllocateFromFreelist(head) {
			continue
		}

		t.store(head, e)
		t.stats.allocations.Add(1)

		// An entry allocated inside the evacuation area is never visited by
		// the marker if its owner was already scanned, and sweep would drop
		// it when the table shrinks. Give up on compaction instead.
		if start := t.startOfEvacuationArea.Load(); head >= start {
			t.abortCompaction(start, "allocation inside evacuation area")
		}
		return types.HandleFromIndex(head), nil
	}
}

// growIfEmpty takes the growth lock and grows the table unless another
// goroutine refilled the freelist while this one was waiting.
func (t *Table) growIfEmpty() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if head := t.freelistHead.Load(); head != 0 {
		return head, nil
	}
	return t.grow()
}

// allocateEvacuationEntry claims a free entry strictly below boundary. It
// never grows the table and reports false when the next free entry is not
// below the boundary.
func (t *Table) allocateEvacuationEntry(boundary uint32) (uint32, bool) {
	for {
		head := t.freelistHead.Load()
		if head == 0 || head >= boundary {
			return 0, false
		}
		if t.tryAllocateFromFreelist(head) {
			return head, true
		}
	}
}
