package types

import "fmt"

// Entry word layout:
//
//	bits  0..47  payload (pointer, freelist next/size, or handle location)
//	bits 48..61  type tag id
//	bit  62      mark bit
//	bit  63      reserved, always zero
const (
	PayloadBits = 48
	PayloadMask = uint64(1)<<PayloadBits - 1

	TagShift = PayloadBits
	TagBits  = 14
	TagIDMax = 1<<TagBits - 1

	// MarkBit is the liveness bit of a regular entry. External tags always
	// carry it so freshly written entries count as live for the current cycle.
	MarkBit = uint64(1) << 62

	// TagMask selects the tag id and the mark bit.
	TagMask = uint64(TagIDMax)<<TagShift | MarkBit
)

// Reserved tag ids. FreeEntryTagID and EvacuationEntryTagID distinguish the
// non-regular entry shapes and can never be handed out to callers.
const (
	NullTagID            uint16 = 0
	EvacuationEntryTagID uint16 = TagIDMax - 1
	FreeEntryTagID       uint16 = TagIDMax
)

// Tag identifies the expected kind of an external pointer. A Tag value is
// already shifted into entry position and, for external tags, includes the
// mark bit.
type Tag uint64

const (
	// NullTag is the tag of the reserved entry at index 0.
	NullTag Tag = 0
	// FreeEntryTag marks freelist nodes.
	FreeEntryTag = Tag(uint64(FreeEntryTagID) << TagShift)
	// EvacuationEntryTag marks evacuation nodes.
	EvacuationEntryTag = Tag(uint64(EvacuationEntryTagID) << TagShift)
)

// MakeTag builds an external pointer tag for id. It panics for the null id
// and the reserved ids, since a tag colliding with them would let a regular
// entry be read as a freelist or evacuation node.
func MakeTag(id uint16) Tag {
	if id == NullTagID || id >= EvacuationEntryTagID {
		panic(Violation(fmt.Sprintf("tag id %#x is reserved", id)))
	}
	return Tag(uint64(id)<<TagShift | MarkBit)
}

// ID returns the tag id without the mark bit.
func (t Tag) ID() uint16 {
	return uint16(uint64(t) >> TagShift & TagIDMax)
}

// IsMarked reports whether the tag carries the mark bit.
func (t Tag) IsMarked() bool {
	return uint64(t)&MarkBit != 0
}

// Unmarked returns the tag with the mark bit cleared.
func (t Tag) Unmarked() Tag {
	return Tag(uint64(t) &^ MarkBit)
}

func (t Tag) String() string {
	if t.IsMarked() {
		return fmt.Sprintf("tag(%#x,marked)", t.ID())
	}
	return fmt.Sprintf("tag(%#x)", t.ID())
}
