package table

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/internal/mmfile"
	"github.com/joshuapare/eptable/pkg/types"
)

// entrySize is the width of one table slot in bytes.
const entrySize = 8

// HandleSpace gives the table access to the handle slots of managed objects.
// Mark reads a slot to check it still holds the handle being marked, and
// Sweep rewrites slots whose entries were evacuated.
type HandleSpace interface {
	LoadHandle(loc types.Address) types.Handle
	StoreHandle(loc types.Address, h types.Handle)
}

// Table is an external pointer table. The zero value is not usable; create
// tables with New.
type Table struct {
	space  HandleSpace
	region *mmfile.Region

	// entries spans the whole reservation. Only [0, capacity) is committed.
	entries []atomic.Uint64

	blockSize             uint32
	maxCapacity           uint32
	freeRatio             float64
	minCompactionCapacity uint32
	log                   *slog.Logger

	// The control words are written by different parties (allocating
	// mutators, markers, growth) and get a cache line each.
	_            cpu.CacheLinePad
	freelistHead atomic.Uint32
	_            cpu.CacheLinePad
	// startOfEvacuationArea holds NotCompactingMarker, a boundary index, or a
	// boundary index with CompactionAbortedMarker OR-ed in.
	startOfEvacuationArea atomic.Uint32
	_                     cpu.CacheLinePad
	capacity              atomic.Uint32
	_                     cpu.CacheLinePad

	// mu serializes growth and sweep.
	mu sync.Mutex

	stats counters

	// Test hook: called after each growth step (nil in production).
	onGrow func(oldCapacity, newCapacity uint32)
}

// New creates an empty table. No entries are committed until the first
// allocation. opts may be nil.
func New(space HandleSpace, opts *Options) (*Table, error) {
	if space == nil {
		return nil, fmt.Errorf("%w: nil HandleSpace", ErrBadOptions)
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	o = o.withDefaults()
	if err := o.validate(); err != nil {
		return nil, err
	}

	region, err := mmfile.Reserve(int(o.MaxCapacity) * entrySize)
	if err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	data := region.Bytes()

	t := &Table{
		space:                 space,
		region:                region,
		entries:               unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(&data[0])), o.MaxCapacity),
		blockSize:             o.EntriesPerBlock,
		maxCapacity:           o.MaxCapacity,
		freeRatio:             o.CompactionFreeRatio,
		minCompactionCapacity: o.MinCompactionCapacity,
		log:                   o.Logger,
	}
	t.startOfEvacuationArea.Store(NotCompactingMarker)
	return t, nil
}

// Close releases the table's memory. No other method may be called after
// or concurrently with Close.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.region == nil {
		return nil
	}
	err := t.region.Release()
	t.region = nil
	t.entries = nil
	t.capacity.Store(0)
	t.freelistHead.Store(0)
	return err
}

// Capacity returns the number of committed entries, index 0 included.
func (t *Table) Capacity() uint32 { return t.capacity.Load() }

// EntriesPerBlock returns the growth unit.
func (t *Table) EntriesPerBlock() uint32 { return t.blockSize }

// index converts a handle to an entry index, rejecting the null handle and
// anything past the committed capacity.
func (t *Table) index(h types.Handle) uint32 {
	i := h.Index()
	if i == 0 {
		violation("null handle %#x", uint32(h))
	}
	if c := t.capacity.Load(); i >= c {
		violation("handle %#x: index %d out of range (capacity %d)", uint32(h), i, c)
	}
	return i
}

func (t *Table) load(i uint32) entry.Entry {
	return entry.Entry(t.entries[i].Load())
}

func (t *Table) store(i uint32, e entry.Entry) {
	t.entries[i].Store(uint64(e))
}

// requireMarkedTag checks the tag passed by a writer. Fresh writes must carry
// the mark bit so they count as live for an in-progress marking cycle.
func requireMarkedTag(tag types.Tag) {
	if !tag.IsMarked() {
		violation("write with unmarked %v", tag)
	}
}
