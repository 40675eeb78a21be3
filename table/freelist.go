package table

import (
	"fmt"

	"github.com/joshuapare/eptable/pkg/types"
)

// tryAllocateFromFreelist attempts to pop head off the freelist. A false
// return means another goroutine moved the head first; the caller retries
// with a fresh head.
func (t *Table) tryAllocateFromFreelist(head uint32) bool {
	if c := t.capacity.Load(); head >= c {
		violation("freelist head %d out of range (capacity %d)", head, c)
	}
	e := t.load(head)
	next := e.NextFreelistEntry()
	if !t.freelistHead.CompareAndSwap(head, next) {
		return false
	}
	// Entries only return to the freelist during sweep, so a successful CAS
	// means the entry read above was still the head node.
	if !e.IsFreelist() {
		violation("claimed %v entry %d from freelist", e.Kind(), head)
	}
	return true
}

// FreelistSize returns the number of free entries. It may be stale by the
// time it returns if other goroutines are allocating.
func (t *Table) FreelistSize() uint32 {
	for {
		head := t.freelistHead.Load()
		if head == 0 {
			return 0
		}
		// A racing allocation may have overwritten the head node already;
		// retry until a freelist node is observed.
		if e := t.load(head); e.IsFreelist() {
			return e.FreelistSize()
		}
	}
}

// Verify walks the freelist and checks its structure: every node is a
// freelist entry inside the table, the chain is acyclic and ends at 0, and
// each node's size equals the number of nodes left on the chain. It must not
// run concurrently with allocation or sweep.
func (t *Table) Verify() error {
	capacity := t.capacity.Load()
	head := t.freelistHead.Load()
	if head == 0 {
		return nil
	}

	var chain []uint32
	seen := make(map[uint32]bool)
	for i := head; i != 0; {
		if i >= capacity {
			return fmt.Errorf("%w: freelist node %d out of range (capacity %d)", types.ErrConsistency, i, capacity)
		}
		if seen[i] {
			return fmt.Errorf("%w: freelist cycle at %d", types.ErrConsistency, i)
		}
		seen[i] = true
		e := t.load(i)
		if !e.IsFreelist() {
			return fmt.Errorf("%w: freelist node %d is %v", types.ErrConsistency, i, e.Kind())
		}
		chain = append(chain, i)
		i = e.NextFreelistEntry()
	}

	for pos, i := range chain {
		want := uint32(len(chain) - pos)
		if got := t.load(i).FreelistSize(); got != want {
			return fmt.Errorf("%w: freelist node %d has size %d, want %d", types.ErrConsistency, i, got, want)
		}
	}
	return nil
}
