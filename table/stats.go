package table

import "sync/atomic"

type counters struct {
	grows       atomic.Uint64
	allocations atomic.Uint64
	evacuations atomic.Uint64
	compactions atomic.Uint64
	aborts      atomic.Uint64
	sweeps      atomic.Uint64
}

// Stats is a point-in-time snapshot of table counters. Counters are
// cumulative over the table's lifetime.
type Stats struct {
	Capacity     uint32
	FreelistSize uint32
	Phase        Phase

	Grows            uint64
	Allocations      uint64
	Evacuations      uint64
	Compactions      uint64
	CompactionAborts uint64
	Sweeps           uint64
}

// Stats returns a snapshot of the table counters. Values read while other
// goroutines are active may be mutually inconsistent.
func (t *Table) Stats() Stats {
	return Stats{
		Capacity:         t.capacity.Load(),
		FreelistSize:     t.FreelistSize(),
		Phase:            t.Phase(),
		Grows:            t.stats.grows.Load(),
		Allocations:      t.stats.allocations.Load(),
		Evacuations:      t.stats.evacuations.Load(),
		Compactions:      t.stats.compactions.Load(),
		CompactionAborts: t.stats.aborts.Load(),
		Sweeps:           t.stats.sweeps.Load(),
	}
}
