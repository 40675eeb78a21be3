package table

import (
	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/pkg/types"
)

// Get returns the pointer stored for h. It panics if h does not refer to a
// regular entry written with tag.
func (t *Table) Get(h types.Handle, tag types.Tag) uint64 {
	return t.load(t.index(h)).Untag(tag)
}

// Set stores value for h. The tag must carry the mark bit: a write during
// marking makes the entry live for the current cycle.
func (t *Table) Set(h types.Handle, value uint64, tag types.Tag) {
	requireMarkedTag(tag)
	i := t.index(h)
	t.store(i, entry.MakeRegular(value, tag))
}

// Exchange stores value for h and returns the previous pointer in one atomic
// step. The previous entry must be a regular entry written with tag.
func (t *Table) Exchange(h types.Handle, value uint64, tag types.Tag) uint64 {
	requireMarkedTag(tag)
	i := t.index(h)
	old := entry.Entry(t.entries[i].Swap(uint64(entry.MakeRegular(value, tag))))
	return old.Untag(tag)
}
