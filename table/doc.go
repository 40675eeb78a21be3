// Package table implements a concurrent, compactable external pointer table.
//
// # Overview
//
// Managed objects never store raw pointers to off-heap memory. They store a
// 32-bit Handle, and the table maps the handle to a tagged pointer. A forged
// handle can only index into the table, and the tag check on every read stops
// a pointer of one kind from being used as another.
//
// # Operations
//
// Mutator side, lock-free:
//
//   - Allocate(value, tag): claim a free entry (grows the table under a lock
//     only when the freelist is empty)
//   - Get(handle, tag), Set(handle, value, tag), Exchange(handle, value, tag)
//
// Collector side:
//
//   - StartCompactingIfNeeded / StartCompaction: pick an evacuation boundary
//   - Mark(handle, location): mark an entry live, evacuating it below the
//     boundary when compacting
//   - Sweep(): rebuild the freelist, resolve evacuations, shrink the table
//
// # Usage Example
//
//	sb, _ := sandbox.New(1 << 20)
//	t, err := table.New(sb, nil)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	tag := types.MakeTag(0x42)
//	h, err := t.Allocate(0x1000, tag)
//	if err != nil {
//	    return err
//	}
//	ptr := t.Get(h, tag) // 0x1000
//
// # Entry Layout
//
//	bits  0..47  payload
//	bits 48..61  tag id (0x3fff free entry, 0x3ffe evacuation entry)
//	bit  62      mark bit
//
// # Compaction
//
// The table is Idle, Compacting or CompactionAborted. While compacting, Mark
// moves every live entry at or above the boundary to a free slot below it and
// leaves an evacuation entry there recording the handle slot's address. If no
// free slot below the boundary is left, any marker may abort compaction; the
// abort is one-way for the rest of the cycle. Sweep resets the table to Idle.
//
// # Errors
//
// Consistency violations (tag mismatch, forged or stale handles, broken
// freelist) panic with a *types.Error wrapping types.ErrConsistency. They are
// never returned: a table that tolerated them would no longer be a security
// boundary. Resource exhaustion is returned as ErrTableFull.
//
// # Debug Builds
//
// Building with the eptable_debug tag tags each evacuated handle slot with
// a visited marker so that a second evacuation through the same slot panics.
// The tests for it only run with the tag:
//
//	go test -tags eptable_debug ./table/...
//
// # Thread Safety
//
// Allocate, Get, Set, Exchange, Mark and the compaction queries may run
// concurrently from any number of goroutines. Sweep and StartCompaction
// require that no mutator or marker is running.
package table
