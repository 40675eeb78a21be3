// Package collector runs garbage collection cycles over an external pointer
// table.
//
// A cycle decides whether to compact, marks every handle slot in the root
// set from a pool of goroutines, and sweeps. Mutators may keep using the
// table while roots are marked; the sweep needs them stopped, which the
// caller arranges through Options.StopTheWorld.
//
//	c, _ := collector.New(tbl, sb, nil)
//	cycle, err := c.Collect(roots)
package collector
