package table

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/pkg/types"
	"github.com/joshuapare/eptable/sandbox"
)

var (
	tagBuffer = types.MakeTag(0x21)
	tagFile   = types.MakeTag(0x22)
)

// object is a managed object with a single external pointer field.
type object struct {
	loc   types.Address
	value uint64
}

type testEnv struct {
	t     testing.TB
	sb    *sandbox.Sandbox
	table *Table
	grows int
}

// newTestEnv creates a sandbox and a table with small blocks so growth and
// compaction are easy to trigger.
func newTestEnv(t testing.TB, blockSize uint32) *testEnv {
	t.Helper()
	return newTestEnvWithOptions(t, &Options{EntriesPerBlock: blockSize, MaxCapacity: 1 << 16})
}

func newTestEnvWithOptions(t testing.TB, opts *Options) *testEnv {
	t.Helper()

	sb, err := sandbox.New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Close() })

	tbl, err := New(sb, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })

	env := &testEnv{t: t, sb: sb, table: tbl}
	tbl.onGrow = func(uint32, uint32) { env.grows++ }
	return env
}

// newObject allocates a handle slot, an entry holding value, and stores the
// handle in the slot.
func (e *testEnv) newObject(value uint64, tag types.Tag) object {
	e.t.Helper()
	loc, err := e.sb.AllocSlots(1)
	require.NoError(e.t, err)
	h, err := e.table.Allocate(value, tag)
	require.NoError(e.t, err)
	e.sb.StoreHandle(loc, h)
	return object{loc: loc, value: value}
}

func (e *testEnv) handle(o object) types.Handle {
	return e.sb.LoadHandle(o.loc).Unmarked()
}

func (e *testEnv) mark(o object) {
	e.table.Mark(e.sb.LoadHandle(o.loc), o.loc)
}

// cycle runs a full non-compacting collection keeping only live.
func (e *testEnv) cycle(live ...object) SweepResult {
	for _, o := range live {
		e.mark(o)
	}
	return e.table.Sweep()
}

// entriesOfKind returns the indices of all entries with the given shape.
func (e *testEnv) entriesOfKind(k entry.Kind) []uint32 {
	var out []uint32
	for i := uint32(1); i < e.table.Capacity(); i++ {
		if e.table.load(i).Kind() == k {
			out = append(out, i)
		}
	}
	return out
}

// freelistLength counts the nodes reachable from the freelist head.
func (e *testEnv) freelistLength() uint32 {
	var n uint32
	for i := e.table.freelistHead.Load(); i != 0; i = e.table.load(i).NextFreelistEntry() {
		n++
		require.LessOrEqual(e.t, n, e.table.Capacity(), "freelist does not terminate")
	}
	return n
}

// requireViolation asserts that fn panics with a consistency violation.
func requireViolation(t testing.TB, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected consistency violation")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.True(t, errors.Is(err, types.ErrConsistency), "unexpected panic: %v", err)
	}()
	fn()
}
