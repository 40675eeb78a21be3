package collector

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/eptable/pkg/types"
	"github.com/joshuapare/eptable/table"
)

// Cycle summarizes one collection.
type Cycle struct {
	Roots   int // handle slots in the root set
	Skipped int // root slots that held the null handle
	Workers int // goroutines used for marking

	// CompactionStarted is set when this cycle picked a boundary.
	CompactionStarted bool
	Boundary          uint32 // evacuation boundary, or table.NotCompactingMarker

	Sweep    table.SweepResult
	Marking  time.Duration
	Duration time.Duration
}

// Collector drives GC cycles for one table. Cycles are serialized.
type Collector struct {
	table *table.Table
	space table.HandleSpace

	workers    int
	minBatch   int
	compaction bool
	stop       func() func()
	log        *slog.Logger

	mu     sync.Mutex
	cycles atomic.Uint64
}

// New creates a collector for t, whose handle slots live in space.
// opts may be nil.
func New(t *table.Table, space table.HandleSpace, opts *Options) (*Collector, error) {
	if t == nil || space == nil {
		return nil, fmt.Errorf("%w: nil table or handle space", ErrBadOptions)
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	o = o.withDefaults()
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Collector{
		table:      t,
		space:      space,
		workers:    o.Workers,
		minBatch:   o.MinRootsPerWorker,
		compaction: !o.DisableCompaction,
		stop:       o.StopTheWorld,
		log:        o.Logger,
	}, nil
}

// Cycles returns the number of completed cycles.
func (c *Collector) Cycles() uint64 { return c.cycles.Load() }

// Collect runs one cycle. roots lists the handle slots of every object that
// is live at the start of the cycle; each slot must appear once. Entries
// allocated while Collect runs survive the cycle.
//
// An error is returned before the table is touched; a consistency violation
// found while marking or sweeping panics.
func (c *Collector) Collect(roots []types.Address) (Cycle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkRoots(roots); err != nil {
		return Cycle{}, err
	}

	began := time.Now()
	cycle := Cycle{Roots: len(roots)}
	if c.compaction {
		cycle.CompactionStarted = c.table.StartCompactingIfNeeded()
	}
	cycle.Boundary = c.table.StartOfEvacuationArea()

	cycle.Workers, cycle.Skipped = c.markRoots(roots)
	cycle.Marking = time.Since(began)

	resume := c.stop()
	cycle.Sweep = c.table.Sweep()
	resume()

	cycle.Duration = time.Since(began)
	c.cycles.Add(1)
	c.log.Info("gc cycle",
		"roots", cycle.Roots,
		"workers", cycle.Workers,
		"boundary", cycle.Boundary,
		"live", cycle.Sweep.Live,
		"free", cycle.Sweep.Free,
		"dropped", cycle.Sweep.Dropped,
		"compacted", cycle.Sweep.Compacted,
		"aborted", cycle.Sweep.Aborted,
		"capacity", cycle.Sweep.CapacityAfter,
		"marking", cycle.Marking,
		"duration", cycle.Duration)
	return cycle, nil
}

func checkRoots(roots []types.Address) error {
	seen := make(map[types.Address]struct{}, len(roots))
	for _, loc := range roots {
		if _, dup := seen[loc]; dup {
			return fmt.Errorf("%w: %#x", ErrDuplicateRoot, uint64(loc))
		}
		seen[loc] = struct{}{}
	}
	return nil
}

// markRoots splits roots into contiguous chunks and marks each chunk on its
// own goroutine. It returns the number of goroutines used and the number of
// slots that held no handle.
func (c *Collector) markRoots(roots []types.Address) (int, int) {
	chunkSize, chunks := calcParallelism(len(roots), c.minBatch, c.workers)

	var skipped atomic.Int64
	mark := func(batch []types.Address) {
		var n int64
		for _, loc := range batch {
			h := c.space.LoadHandle(loc)
			if h.IsNull() {
				n++
				continue
			}
			c.table.Mark(h, loc)
		}
		skipped.Add(n)
	}

	if chunks <= 1 {
		mark(roots)
		return 1, int(skipped.Load())
	}

	var wg sync.WaitGroup
	wg.Add(chunks)
	for i := range chunks {
		go func(start, end int) {
			defer wg.Done()
			mark(roots[start:end])
		}(i*chunkSize, min((i+1)*chunkSize, len(roots)))
	}
	wg.Wait()
	return chunks, int(skipped.Load())
}

// calcParallelism returns the chunk size and number of goroutines for
// processing items, using one goroutine per threshold items up to workers.
func calcParallelism(items, threshold, workers int) (chunkSize, chunks int) {
	if items <= threshold || workers <= 1 {
		return items, 1
	}
	chunks = min(items/threshold, workers)
	chunkSize = (items + chunks - 1) / chunks
	// Rounding the chunk size up can leave trailing chunks empty.
	chunks = (items + chunkSize - 1) / chunkSize
	return chunkSize, chunks
}
