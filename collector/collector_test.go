package collector

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/eptable/pkg/types"
	"github.com/joshuapare/eptable/sandbox"
	"github.com/joshuapare/eptable/table"
)

var tagBlob = types.MakeTag(0x31)

type heap struct {
	t     testing.TB
	sb    *sandbox.Sandbox
	table *table.Table
	// live maps handle slot to the value behind it.
	live map[types.Address]uint64
}

func newHeap(t testing.TB) *heap {
	t.Helper()
	sb, err := sandbox.New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Close() })

	tbl, err := table.New(sb, &table.Options{EntriesPerBlock: 64, MaxCapacity: 1 << 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })

	return &heap{t: t, sb: sb, table: tbl, live: make(map[types.Address]uint64)}
}

func (h *heap) alloc(value uint64) types.Address {
	h.t.Helper()
	loc, err := h.sb.AllocSlots(1)
	require.NoError(h.t, err)
	hd, err := h.table.Allocate(value, tagBlob)
	require.NoError(h.t, err)
	h.sb.StoreHandle(loc, hd)
	h.live[loc] = value
	return loc
}

func (h *heap) roots() []types.Address {
	out := make([]types.Address, 0, len(h.live))
	for loc := range h.live {
		out = append(out, loc)
	}
	return out
}

func (h *heap) requireValues() {
	h.t.Helper()
	for loc, v := range h.live {
		require.Equal(h.t, v, h.table.Get(h.sb.LoadHandle(loc), tagBlob), "slot %#x", uint64(loc))
	}
}

func newCollector(t testing.TB, h *heap, opts *Options) *Collector {
	t.Helper()
	c, err := New(h.table, h.sb, opts)
	require.NoError(t, err)
	return c
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := newHeap(t)
	c := newCollector(t, h, &Options{DisableCompaction: true})

	for i := range 50 {
		h.alloc(uint64(i + 1))
	}
	cycle, err := c.Collect(h.roots())
	require.NoError(t, err)
	assert.Equal(t, uint32(50), cycle.Sweep.Live)

	var drop []types.Address
	for loc := range h.live {
		if len(drop) == 20 {
			break
		}
		drop = append(drop, loc)
	}
	for _, loc := range drop {
		delete(h.live, loc)
	}

	cycle, err = c.Collect(h.roots())
	require.NoError(t, err)
	assert.Equal(t, 30, cycle.Roots)
	assert.Equal(t, uint32(30), cycle.Sweep.Live)
	assert.Equal(t, uint32(63-30), cycle.Sweep.Free)
	assert.False(t, cycle.CompactionStarted)
	assert.Equal(t, table.NotCompactingMarker, cycle.Boundary)
	assert.Equal(t, uint64(2), c.Cycles())
	h.requireValues()
	require.NoError(t, h.table.Verify())
}

func TestCollectCompacts(t *testing.T) {
	h := newHeap(t)
	c := newCollector(t, h, &Options{Workers: 4, MinRootsPerWorker: 8})

	var locs []types.Address
	for i := range 1000 {
		locs = append(locs, h.alloc(uint64(i+1)<<8))
	}
	_, err := c.Collect(h.roots())
	require.NoError(t, err)
	before := h.table.Capacity()

	// Keep every tenth object, spread across the whole table.
	for i, loc := range locs {
		if i%10 != 0 {
			delete(h.live, loc)
		}
	}
	_, err = c.Collect(h.roots())
	require.NoError(t, err)

	cycle, err := c.Collect(h.roots())
	require.NoError(t, err)
	require.True(t, cycle.CompactionStarted)
	assert.True(t, cycle.Sweep.Compacted)
	assert.Equal(t, cycle.Boundary, cycle.Sweep.CapacityAfter)
	assert.Less(t, h.table.Capacity(), before)
	assert.Positive(t, cycle.Sweep.Resolved)
	assert.Equal(t, 4, cycle.Workers)

	h.requireValues()
	for loc := range h.live {
		assert.Less(t, h.sb.LoadHandle(loc).Index(), cycle.Boundary)
	}
	require.NoError(t, h.table.Verify())
}

// TestCollectDropsFloatingGarbage writes to an object after the last cycle and
// then drops it. Its entry carries the mark bit but no root reaches it when
// the table compacts.
func TestCollectDropsFloatingGarbage(t *testing.T) {
	h := newHeap(t)
	c := newCollector(t, h, &Options{Workers: 4, MinRootsPerWorker: 8})

	var locs []types.Address
	for i := range 1000 {
		locs = append(locs, h.alloc(uint64(i+1)<<8))
	}
	_, err := c.Collect(h.roots())
	require.NoError(t, err)
	for i, loc := range locs {
		if i%10 != 0 {
			delete(h.live, loc)
		}
	}
	_, err = c.Collect(h.roots())
	require.NoError(t, err)

	dead := locs[990]
	h.table.Set(h.sb.LoadHandle(dead), 0x4242, tagBlob)
	delete(h.live, dead)

	var cycle Cycle
	require.NotPanics(t, func() { cycle, err = c.Collect(h.roots()) })
	require.NoError(t, err)
	require.True(t, cycle.Sweep.Compacted)
	assert.Equal(t, uint32(1), cycle.Sweep.Dropped)
	h.requireValues()
	require.NoError(t, h.table.Verify())
}

func TestCollectRejectsDuplicateRoots(t *testing.T) {
	h := newHeap(t)
	c := newCollector(t, h, nil)
	loc := h.alloc(0x10)

	_, err := c.Collect([]types.Address{loc, loc})
	require.ErrorIs(t, err, ErrDuplicateRoot)
	assert.Equal(t, table.Idle, h.table.Phase())
	assert.Zero(t, h.table.Stats().Sweeps)
	assert.Zero(t, c.Cycles())
}

func TestCollectSkipsEmptySlots(t *testing.T) {
	h := newHeap(t)
	c := newCollector(t, h, nil)
	h.alloc(0x10)

	empty, err := h.sb.AllocSlots(1)
	require.NoError(t, err)
	cycle, err := c.Collect(append(h.roots(), empty))
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Skipped)
	h.requireValues()
}

func TestStopTheWorldWrapsSweep(t *testing.T) {
	h := newHeap(t)
	var stops, resumes int
	c := newCollector(t, h, &Options{StopTheWorld: func() func() {
		stops++
		assert.Equal(t, stops-1, resumes)
		return func() { resumes++ }
	}})
	h.alloc(0x10)

	for range 3 {
		_, err := c.Collect(h.roots())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, stops)
	assert.Equal(t, 3, resumes)
}

func TestNewRejectsBadOptions(t *testing.T) {
	h := newHeap(t)
	_, err := New(nil, h.sb, nil)
	require.ErrorIs(t, err, ErrBadOptions)
	_, err = New(h.table, nil, nil)
	require.ErrorIs(t, err, ErrBadOptions)
	_, err = New(h.table, h.sb, &Options{Workers: -1})
	require.ErrorIs(t, err, types.ErrBadConfig)
}

func TestCalcParallelism(t *testing.T) {
	tests := []struct {
		items, threshold, workers int
		chunkSize, chunks         int
	}{
		{0, 8, 4, 0, 1},
		{8, 8, 4, 8, 1},
		{100, 8, 1, 100, 1},
		{100, 8, 4, 25, 4},
		{100, 40, 8, 50, 2},
		{10, 1, 8, 2, 5},
	}
	for _, tt := range tests {
		size, n := calcParallelism(tt.items, tt.threshold, tt.workers)
		assert.Equal(t, tt.chunkSize, size, "%+v", tt)
		assert.Equal(t, tt.chunks, n, "%+v", tt)
		if tt.items > 0 {
			assert.GreaterOrEqual(t, size*n, tt.items)
			assert.Less(t, size*(n-1), tt.items, "no empty chunk")
		}
	}
}

// TestCollectWithConcurrentMutators runs cycles while mutators keep writing
// and allocating. Mutators hold a read lock per operation; the sweep takes
// the write lock.
func TestCollectWithConcurrentMutators(t *testing.T) {
	h := newHeap(t)
	var world sync.RWMutex
	c := newCollector(t, h, &Options{
		Workers:           4,
		MinRootsPerWorker: 16,
		StopTheWorld: func() func() {
			world.Lock()
			return world.Unlock
		},
	})

	const mutators = 4
	type mutator struct {
		mu   sync.Mutex
		live map[types.Address]uint64
	}
	ms := make([]*mutator, mutators)
	for i := range ms {
		ms[i] = &mutator{live: make(map[types.Address]uint64)}
	}

	snapshot := func() []types.Address {
		world.Lock()
		defer world.Unlock()
		var roots []types.Address
		for _, m := range ms {
			m.mu.Lock()
			for loc := range m.live {
				roots = append(roots, loc)
			}
			m.mu.Unlock()
		}
		return roots
	}

	const opsPerMutator = 5000
	var wg sync.WaitGroup
	for id, m := range ms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(id)))
			var slots []types.Address
			for op := range opsPerMutator {
				world.RLock()
				m.mu.Lock()
				switch r := rng.Intn(10); {
				case r < 4 || len(slots) == 0:
					loc, err := h.sb.AllocSlots(1)
					if err != nil {
						t.Errorf("slot: %v", err)
					} else if hd, err := h.table.Allocate(uint64(op)<<4, tagBlob); err != nil {
						t.Errorf("allocate: %v", err)
					} else {
						h.sb.StoreHandle(loc, hd)
						m.live[loc] = uint64(op) << 4
						slots = append(slots, loc)
					}
				case r < 7:
					loc := slots[rng.Intn(len(slots))]
					h.table.Set(h.sb.LoadHandle(loc), uint64(op)<<8, tagBlob)
					m.live[loc] = uint64(op) << 8
				case r < 9:
					loc := slots[rng.Intn(len(slots))]
					if got := h.table.Get(h.sb.LoadHandle(loc), tagBlob); got != m.live[loc] {
						t.Errorf("slot %#x: got %#x want %#x", uint64(loc), got, m.live[loc])
					}
				default:
					i := rng.Intn(len(slots))
					delete(m.live, slots[i])
					slots[i] = slots[len(slots)-1]
					slots = slots[:len(slots)-1]
				}
				m.mu.Unlock()
				world.RUnlock()
			}
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	for cycles := 0; ; cycles++ {
		_, err := c.Collect(snapshot())
		require.NoError(t, err)
		select {
		case <-finished:
		default:
			continue
		}
		if cycles >= 3 {
			break
		}
	}

	for _, m := range ms {
		for loc, v := range m.live {
			require.Equal(t, v, h.table.Get(h.sb.LoadHandle(loc), tagBlob))
		}
	}
	require.NoError(t, h.table.Verify())
}
