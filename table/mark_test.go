package table

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/pkg/types"
)

// fragmented builds a 16-entry table where only indices 9 and 10 are live
// and 1..8, 11..15 are free, so a boundary of 8 has free slots on both sides.
func fragmented(t *testing.T) (*testEnv, object, object) {
	t.Helper()
	env := newTestEnv(t, 16)

	var objs []object
	for i := range 10 {
		objs = append(objs, env.newObject(uint64(i+1)<<8, tagBuffer))
	}
	env.cycle()
	o9, o10 := objs[8], objs[9]
	env.cycle(o9, o10)

	require.Equal(t, uint32(9), env.handle(o9).Index())
	require.Equal(t, uint32(10), env.handle(o10).Index())
	require.Equal(t, uint32(13), env.table.FreelistSize())
	return env, o9, o10
}

func TestMarkSetsMarkBit(t *testing.T) {
	env := newTestEnv(t, 16)
	o := env.newObject(0x1000, tagBuffer)
	env.cycle(o)

	i := env.handle(o).Index()
	require.False(t, env.table.load(i).IsMarked(), "sweep clears mark bits")

	env.mark(o)
	assert.True(t, env.table.load(i).IsMarked())
	assert.Empty(t, env.entriesOfKind(entry.KindEvacuation))
	assert.Equal(t, uint64(0x1000), env.table.Get(env.handle(o), tagBuffer))
}

func TestMarkIsIdempotentOnEntry(t *testing.T) {
	env := newTestEnv(t, 16)
	o := env.newObject(0x1000, tagBuffer)
	env.cycle(o)

	env.mark(o)
	env.mark(o)
	assert.True(t, env.table.load(env.handle(o).Index()).IsMarked())
}

// TestMarkEvacuatesAboveBoundary marks an entry above the boundary: an
// evacuation entry appears below the boundary and the original stays a
// marked regular entry.
func TestMarkEvacuatesAboveBoundary(t *testing.T) {
	env, _, o10 := fragmented(t)
	require.NoError(t, env.table.StartCompaction(8))

	h := env.handle(o10)
	env.table.Mark(h, o10.loc)

	evac := env.entriesOfKind(entry.KindEvacuation)
	require.Len(t, evac, 1)
	assert.Less(t, evac[0], uint32(8))
	assert.Equal(t, o10.loc, env.table.load(evac[0]).HandleLocation())

	orig := env.table.load(10)
	assert.True(t, orig.IsRegular())
	assert.True(t, orig.IsMarked())
	assert.Equal(t, o10.value, env.table.Get(h, tagBuffer))
	assert.Equal(t, Compacting, env.table.Phase())
	assert.Equal(t, uint64(1), env.table.Stats().Evacuations)
}

// TestMarkAbortsWhenNoSlotBelowBoundary exhausts the free entries below the
// boundary before marking an entry that needs evacuation.
func TestMarkAbortsWhenNoSlotBelowBoundary(t *testing.T) {
	env, _, o10 := fragmented(t)
	require.NoError(t, env.table.StartCompaction(8))

	for range 7 {
		env.newObject(0x10, tagFile)
	}
	require.Equal(t, Compacting, env.table.Phase(), "allocations below the boundary keep compacting")
	require.Equal(t, uint32(8), env.table.freelistHead.Load())

	env.mark(o10)

	assert.True(t, env.table.CompactionAbortedDuringMarking())
	assert.True(t, env.table.IsCompacting())
	assert.Equal(t, CompactionAborted, env.table.Phase())
	assert.Equal(t, uint32(8), env.table.StartOfEvacuationArea())
	assert.Empty(t, env.entriesOfKind(entry.KindEvacuation))
	assert.True(t, env.table.load(10).IsMarked(), "aborted entries are still marked")
	assert.Equal(t, uint64(1), env.table.Stats().CompactionAborts)
}

func TestNoEvacuationAfterAbort(t *testing.T) {
	env, o9, o10 := fragmented(t)
	require.NoError(t, env.table.StartCompaction(8))

	env.mark(o10)
	require.Len(t, env.entriesOfKind(entry.KindEvacuation), 1)

	// Consume the remaining free slots below the boundary, then hit the abort.
	for range 6 {
		env.newObject(0x10, tagFile)
	}
	env.mark(o9)
	require.Equal(t, CompactionAborted, env.table.Phase())

	// Further marks are ordinary marks.
	before := env.table.FreelistSize()
	o := env.newObject(0x20, tagFile)
	env.mark(o)
	assert.Len(t, env.entriesOfKind(entry.KindEvacuation), 1)
	assert.Equal(t, before-1, env.table.FreelistSize())
	assert.Equal(t, uint64(1), env.table.Stats().CompactionAborts)
}

func TestMarkStaleLocationPanics(t *testing.T) {
	env := newTestEnv(t, 16)
	a := env.newObject(0x1000, tagBuffer)
	b := env.newObject(0x2000, tagBuffer)

	requireViolation(t, func() { env.table.Mark(env.handle(a), b.loc) })

	empty, err := env.sb.AllocSlots(1)
	require.NoError(t, err)
	requireViolation(t, func() { env.table.Mark(types.NullHandle, empty) })
}

func TestMarkNonRegularPanics(t *testing.T) {
	env := newTestEnv(t, 16)
	env.newObject(0x1000, tagBuffer)

	// A forged handle to a free entry, planted in a slot.
	loc, err := env.sb.AllocSlots(1)
	require.NoError(t, err)
	forged := types.HandleFromIndex(5)
	env.sb.StoreHandle(loc, forged)
	requireViolation(t, func() { env.table.Mark(forged, loc) })
}

// TestMarkRacingSet runs Set against Mark. A failed mark CAS is fine because
// the writer's entry is already marked.
func TestMarkRacingSet(t *testing.T) {
	env := newTestEnv(t, 16)
	o := env.newObject(0x10, tagBuffer)
	h := env.handle(o)

	for round := range 200 {
		env.cycle(o)

		var wg sync.WaitGroup
		wg.Add(2)
		last := uint64(round+1) << 8
		go func() {
			defer wg.Done()
			for v := uint64(1); v <= 16; v++ {
				env.table.Set(h, v<<4, tagBuffer)
			}
			env.table.Set(h, last, tagBuffer)
		}()
		go func() {
			defer wg.Done()
			env.table.Mark(h, o.loc)
		}()
		wg.Wait()

		e := env.table.load(h.Index())
		require.True(t, e.IsMarked(), "round %d", round)
		require.Equal(t, last, e.Untag(tagBuffer), "round %d", round)
	}
}

// TestConcurrentMarkDuringCompaction marks a large live set from several
// goroutines while a mutator allocates. Every entry at or above the
// boundary ends up evacuated unless compaction was aborted, and a sweep
// afterwards preserves every value.
func TestConcurrentMarkDuringCompaction(t *testing.T) {
	for _, withMutator := range []bool{false, true} {
		name := "markers-only"
		if withMutator {
			name = "with-mutator"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, 64)

			var objs []object
			for i := range 600 {
				objs = append(objs, env.newObject(uint64(i+1)<<4, tagBuffer))
			}
			env.cycle()
			var keep []object
			for i, o := range objs {
				if i%3 == 0 {
					keep = append(keep, o)
				}
			}
			env.cycle(keep...)

			const boundary = 320
			require.NoError(t, env.table.StartCompaction(boundary))

			original := make(map[types.Address]uint32, len(keep))
			for _, o := range keep {
				original[o.loc] = env.handle(o).Index()
			}

			var mutated []object
			var wg sync.WaitGroup
			if withMutator {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range 250 {
						loc, err := env.sb.AllocSlots(1)
						if err != nil {
							t.Errorf("slot: %v", err)
							return
						}
						v := uint64(0x100000 + i<<4)
						h, err := env.table.Allocate(v, tagFile)
						if err != nil {
							t.Errorf("allocate: %v", err)
							return
						}
						env.sb.StoreHandle(loc, h)
						mutated = append(mutated, object{loc: loc, value: v})
					}
				}()
			}

			const markers = 8
			for w := range markers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := w; i < len(keep); i += markers {
						env.table.Mark(env.sb.LoadHandle(keep[i].loc), keep[i].loc)
					}
				}()
			}
			wg.Wait()

			aborted := env.table.CompactionAbortedDuringMarking()
			evacuated := make(map[types.Address]uint32)
			for _, i := range env.entriesOfKind(entry.KindEvacuation) {
				require.Less(t, i, uint32(boundary))
				loc := env.table.load(i).HandleLocation()
				_, dup := evacuated[loc]
				require.False(t, dup, "slot %#x evacuated twice", loc)
				evacuated[loc] = i
			}
			for _, o := range keep {
				if original[o.loc] < boundary {
					require.NotContains(t, evacuated, o.loc)
					continue
				}
				_, ok := evacuated[o.loc]
				require.True(t, ok || aborted, "entry %d neither evacuated nor aborted", original[o.loc])
			}
			require.Equal(t, uint64(len(evacuated)), env.table.Stats().Evacuations)

			res := env.table.Sweep()
			require.Equal(t, aborted, res.Aborted)
			require.Equal(t, !aborted, res.Compacted)
			require.Equal(t, uint32(len(evacuated)), res.Resolved)

			for _, o := range keep {
				h := env.handle(o)
				require.Equal(t, o.value, env.table.Get(h, tagBuffer))
				if !aborted {
					require.Less(t, h.Index(), uint32(boundary))
				}
			}
			for _, o := range mutated {
				require.Equal(t, o.value, env.table.Get(env.handle(o), tagFile))
			}
			require.NoError(t, env.table.Verify())
			require.Equal(t, Idle, env.table.Phase())
		})
	}
}
