// Package workload drives a table the way a managed heap would: mutator
// goroutines allocate, write, read, exchange and drop external pointers
// while a collector runs cycles, and every live value is verified after each
// cycle.
package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/eptable/collector"
	"github.com/joshuapare/eptable/pkg/types"
	"github.com/joshuapare/eptable/sandbox"
	"github.com/joshuapare/eptable/table"
)

// MaxMutators bounds Config.Mutators. Mutator ids are folded into tag ids
// and the high payload bits.
const MaxMutators = 256

// ErrBadConfig indicates an invalid workload configuration.
var ErrBadConfig = fmt.Errorf("workload: %w", types.ErrBadConfig)

// Config describes one run.
type Config struct {
	Mutators    int
	Ops         int // per mutator
	MinCycles   int
	Block       uint32
	MaxCapacity uint32
	Workers     int
	Compact     bool
	Seed        int64
	SandboxSize int // bytes
	Release     int // percent of its objects each mutator drops after its last operation
}

// DefaultConfig returns the configuration used by the command line tools.
func DefaultConfig() Config {
	return Config{
		Mutators:    4,
		Ops:         20000,
		MinCycles:   3,
		Block:       1024,
		MaxCapacity: 1 << 20,
		Compact:     true,
		Seed:        1,
		SandboxSize: 64 << 20,
		Release:     50,
	}
}

func (c Config) validate() error {
	if c.Mutators <= 0 || c.Mutators > MaxMutators {
		return fmt.Errorf("%w: %d mutators (1..%d)", ErrBadConfig, c.Mutators, MaxMutators)
	}
	if c.Ops < 0 || c.MinCycles < 0 {
		return fmt.Errorf("%w: ops %d, min cycles %d", ErrBadConfig, c.Ops, c.MinCycles)
	}
	if c.Release < 0 || c.Release > 100 {
		return fmt.Errorf("%w: release %d%% (0..100)", ErrBadConfig, c.Release)
	}
	return nil
}

// Report summarizes a run.
type Report struct {
	Mutators   int           `json:"mutators"`
	Operations int           `json:"operations"`
	Cycles     uint64        `json:"cycles"`
	Duration   time.Duration `json:"duration_ns"`

	Allocations   uint64 `json:"allocations"`
	Sets          uint64 `json:"sets"`
	Gets          uint64 `json:"gets"`
	Exchanges     uint64 `json:"exchanges"`
	Drops         uint64 `json:"drops"`
	TableFull     uint64 `json:"table_full"`
	Verifications uint64 `json:"verifications"`

	Compactions       uint64 `json:"compactions"`
	CompactionAborts  uint64 `json:"compaction_aborts"`
	Evacuations       uint64 `json:"evacuations"`
	Grows             uint64 `json:"grows"`
	PeakCapacity      uint32 `json:"peak_capacity"`
	FinalCapacity     uint32 `json:"final_capacity"`
	FinalLive         int    `json:"final_live"`
	FinalFreelistSize uint32 `json:"final_freelist_size"`
}

// Progress is reported after every cycle.
type Progress struct {
	Cycle    uint64
	OpsDone  int
	OpsTotal int
	Live     int
	Last     collector.Cycle
	Stats    table.Stats
}

// mutator owns a set of objects, each a sandbox slot holding a handle.
type mutator struct {
	id  int
	tag types.Tag
	rng *rand.Rand

	mu    sync.Mutex
	slots []types.Address
	live  map[types.Address]uint64

	allocations, sets, gets, exchanges, drops, full uint64
}

// run holds the shared state of one workload. The world lock is held for
// reading around every mutator operation, so a collector that takes it for
// writing sees no half-done operation.
type run struct {
	sb    *sandbox.Sandbox
	table *table.Table
	world sync.RWMutex
	ms    []*mutator
	ops   atomic.Int64

	errMu sync.Mutex
	err   error
}

func (r *run) fail(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *run) failed() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Run executes the workload. It returns when every mutator has finished and
// at least cfg.MinCycles cycles have run, when a check fails, or when ctx is
// done. onCycle, if not nil, is called from the collecting goroutine after
// every cycle.
func Run(ctx context.Context, cfg Config, log *slog.Logger, onCycle func(Progress)) (Report, error) {
	if err := cfg.validate(); err != nil {
		return Report{}, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	sb, err := sandbox.New(cfg.SandboxSize)
	if err != nil {
		return Report{}, err
	}
	defer sb.Close()

	tbl, err := table.New(sb, &table.Options{
		EntriesPerBlock: cfg.Block,
		MaxCapacity:     cfg.MaxCapacity,
		Logger:          log,
	})
	if err != nil {
		return Report{}, err
	}
	defer tbl.Close()

	r := &run{sb: sb, table: tbl, ms: make([]*mutator, cfg.Mutators)}
	gc, err := collector.New(tbl, sb, &collector.Options{
		Workers:           cfg.Workers,
		DisableCompaction: !cfg.Compact,
		StopTheWorld: func() func() {
			r.world.Lock()
			return r.world.Unlock
		},
		Logger: log,
	})
	if err != nil {
		return Report{}, err
	}

	for i := range r.ms {
		r.ms[i] = &mutator{
			id:   i,
			tag:  types.MakeTag(uint16(0x100 + i)),
			rng:  rand.New(rand.NewSource(cfg.Seed + int64(i))),
			live: make(map[types.Address]uint64),
		}
	}

	began := time.Now()
	var wg sync.WaitGroup
	for _, m := range r.ms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for op := range cfg.Ops {
				if ctx.Err() != nil || r.failed() != nil {
					return
				}
				if err := r.step(m, op); err != nil {
					r.fail(err)
					return
				}
				r.ops.Add(1)
			}
			r.release(m, cfg.Release)
		}()
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	// After the mutators finish, one cycle may still have seen the released
	// objects as roots, the next frees them and the last can compact.
	settle := 1
	if cfg.Release > 0 {
		settle = 3
	}
	var report Report
	for {
		if err := r.failed(); err != nil {
			<-finished
			return report, err
		}
		if err := ctx.Err(); err != nil {
			<-finished
			return report, err
		}

		cycle, err := gc.Collect(r.roots())
		if err != nil {
			r.fail(err)
			continue
		}
		report.PeakCapacity = max(report.PeakCapacity, cycle.Sweep.CapacityBefore)

		n, live, err := r.verify()
		report.Verifications += n
		if err != nil {
			r.fail(err)
			continue
		}
		if onCycle != nil {
			onCycle(Progress{
				Cycle:    gc.Cycles(),
				OpsDone:  int(r.ops.Load()),
				OpsTotal: cfg.Mutators * cfg.Ops,
				Live:     live,
				Last:     cycle,
				Stats:    tbl.Stats(),
			})
		}

		select {
		case <-finished:
			settle--
		default:
			continue
		}
		if settle <= 0 && gc.Cycles() >= uint64(max(cfg.MinCycles, 1)) {
			break
		}
	}
	if err := r.failed(); err != nil {
		return report, err
	}
	if err := tbl.Verify(); err != nil {
		return report, err
	}

	report.Duration = time.Since(began)
	report.Mutators = cfg.Mutators
	report.Operations = int(r.ops.Load())
	report.Cycles = gc.Cycles()
	for _, m := range r.ms {
		report.Allocations += m.allocations
		report.Sets += m.sets
		report.Gets += m.gets
		report.Exchanges += m.exchanges
		report.Drops += m.drops
		report.TableFull += m.full
		report.FinalLive += len(m.live)
	}
	st := tbl.Stats()
	report.Compactions = st.Compactions
	report.CompactionAborts = st.CompactionAborts
	report.Evacuations = st.Evacuations
	report.Grows = st.Grows
	report.FinalCapacity = st.Capacity
	report.FinalFreelistSize = st.FreelistSize
	log.Info("workload finished",
		"operations", report.Operations,
		"cycles", report.Cycles,
		"compactions", report.Compactions,
		"aborts", report.CompactionAborts,
		"duration", report.Duration)
	return report, nil
}

// step performs one random operation for m.
func (r *run) step(m *mutator, op int) error {
	r.world.RLock()
	defer r.world.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	value := uint64(m.id)<<40 | uint64(op)<<4
	switch n := m.rng.Intn(100); {
	case n < 35 || len(m.slots) == 0:
		loc, err := r.sb.AllocSlots(1)
		if err != nil {
			return err
		}
		h, err := r.table.Allocate(value, m.tag)
		if errors.Is(err, table.ErrTableFull) {
			m.full++
			if len(m.slots) > 0 {
				m.drop(m.rng.Intn(len(m.slots)))
			}
			return nil
		}
		if err != nil {
			return err
		}
		r.sb.StoreHandle(loc, h)
		m.slots = append(m.slots, loc)
		m.live[loc] = value
		m.allocations++
	case n < 60:
		loc := m.slots[m.rng.Intn(len(m.slots))]
		r.table.Set(r.sb.LoadHandle(loc), value, m.tag)
		m.live[loc] = value
		m.sets++
	case n < 80:
		loc := m.slots[m.rng.Intn(len(m.slots))]
		if got := r.table.Get(r.sb.LoadHandle(loc), m.tag); got != m.live[loc] {
			return fmt.Errorf("mutator %d: slot %#x holds %#x, want %#x", m.id, uint64(loc), got, m.live[loc])
		}
		m.gets++
	case n < 90:
		loc := m.slots[m.rng.Intn(len(m.slots))]
		if old := r.table.Exchange(r.sb.LoadHandle(loc), value, m.tag); old != m.live[loc] {
			return fmt.Errorf("mutator %d: exchange at %#x returned %#x, want %#x", m.id, uint64(loc), old, m.live[loc])
		}
		m.live[loc] = value
		m.exchanges++
	default:
		m.drop(m.rng.Intn(len(m.slots)))
	}
	return nil
}

// drop forgets the object at position i. Its entry is reclaimed by the next
// cycle that does not list it as a root. The slot keeps its handle: a
// running cycle may already have evacuated through it, and sweep rewrites
// it.
func (m *mutator) drop(i int) {
	delete(m.live, m.slots[i])
	m.slots[i] = m.slots[len(m.slots)-1]
	m.slots = m.slots[:len(m.slots)-1]
	m.drops++
}

// release drops pct percent of m's objects.
func (r *run) release(m *mutator, pct int) {
	r.world.RLock()
	defer r.world.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	for n := len(m.slots) * pct / 100; n > 0; n-- {
		m.drop(m.rng.Intn(len(m.slots)))
	}
}

// roots snapshots the handle slots of all live objects with mutators parked.
func (r *run) roots() []types.Address {
	r.world.Lock()
	defer r.world.Unlock()
	var roots []types.Address
	for _, m := range r.ms {
		m.mu.Lock()
		roots = append(roots, m.slots...)
		m.mu.Unlock()
	}
	return roots
}

// verify reads every live value back with mutators parked. It returns the
// number of values checked and the size of the live set.
func (r *run) verify() (uint64, int, error) {
	r.world.Lock()
	defer r.world.Unlock()
	var n uint64
	for _, m := range r.ms {
		m.mu.Lock()
		for loc, want := range m.live {
			if got := r.table.Get(r.sb.LoadHandle(loc), m.tag); got != want {
				m.mu.Unlock()
				return n, 0, fmt.Errorf("mutator %d: slot %#x holds %#x after cycle, want %#x", m.id, uint64(loc), got, want)
			}
			n++
		}
		m.mu.Unlock()
	}
	return n, int(n), nil
}
