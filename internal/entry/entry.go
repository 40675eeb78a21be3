// Package entry encodes and decodes the 64-bit words stored in the external
// pointer table.
//
// A word is exactly one of three shapes, told apart by its tag id:
//
//	Regular     pointer payload, caller tag, optional mark bit
//	Freelist    next free index (bits 0..23), chain size (bits 24..47)
//	Evacuation  sandbox address of the handle slot to fix up (bits 0..47)
//
// All functions are pure. The table reads and writes whole words atomically,
// so an Entry is never observed half old and half new.
package entry

import (
	"fmt"

	"github.com/joshuapare/eptable/pkg/types"
)

const (
	freelistFieldBits = 24
	freelistFieldMask = uint64(1)<<freelistFieldBits - 1
)

// Kind names the shape of an entry.
type Kind uint8

const (
	KindRegular Kind = iota
	KindFreelist
	KindEvacuation
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindFreelist:
		return "freelist"
	case KindEvacuation:
		return "evacuation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is one table slot.
type Entry uint64

// MakeRegular combines a pointer value with its tag. The value must fit in
// the payload bits.
func MakeRegular(value uint64, tag types.Tag) Entry {
	if value&^types.PayloadMask != 0 {
		panic(types.Violation(fmt.Sprintf("value %#x overlaps tag bits", value)))
	}
	if id := tag.ID(); id == types.FreeEntryTagID || id == types.EvacuationEntryTagID {
		panic(types.Violation(fmt.Sprintf("%v is reserved", tag)))
	}
	return Entry(value | uint64(tag))
}

// MakeFreelist builds a freelist node. size counts the free nodes on the
// chain starting at this node, this node included.
func MakeFreelist(next, size uint32) Entry {
	if next >= types.MaxEntries || size > types.MaxEntries-1 {
		panic(types.Violation(fmt.Sprintf("freelist node out of range: next=%d size=%d", next, size)))
	}
	return Entry(uint64(next) | uint64(size)<<freelistFieldBits | uint64(types.FreeEntryTag))
}

// MakeEvacuation builds an evacuation node recording where the handle that
// must be rewritten during sweep lives.
func MakeEvacuation(loc types.Address) Entry {
	if loc > types.MaxAddress {
		panic(types.Violation(fmt.Sprintf("handle location %#x out of range", uint64(loc))))
	}
	return Entry(uint64(loc) | uint64(types.EvacuationEntryTag))
}

func (e Entry) tagID() uint16 {
	return uint16(uint64(e) >> types.TagShift & types.TagIDMax)
}

// Kind returns the shape of e.
func (e Entry) Kind() Kind {
	switch e.tagID() {
	case types.FreeEntryTagID:
		return KindFreelist
	case types.EvacuationEntryTagID:
		return KindEvacuation
	default:
		return KindRegular
	}
}

func (e Entry) IsRegular() bool    { return e.Kind() == KindRegular }
func (e Entry) IsFreelist() bool   { return e.Kind() == KindFreelist }
func (e Entry) IsEvacuation() bool { return e.Kind() == KindEvacuation }

// NextFreelistEntry returns the index of the next free entry, 0 at the end of
// the chain.
func (e Entry) NextFreelistEntry() uint32 {
	return uint32(uint64(e) & freelistFieldMask)
}

// FreelistSize returns the number of free nodes from this node to the end of
// the chain.
func (e Entry) FreelistSize() uint32 {
	return uint32(uint64(e) >> freelistFieldBits & freelistFieldMask)
}

// HandleLocation returns the slot address recorded by an evacuation node.
func (e Entry) HandleLocation() types.Address {
	return types.Address(uint64(e) & types.PayloadMask)
}

// Tag returns the tag bits of e with the mark bit cleared.
func (e Entry) Tag() types.Tag {
	return types.Tag(uint64(e) & types.TagMask &^ types.MarkBit)
}

// Payload returns the raw payload bits without any tag check.
func (e Entry) Payload() uint64 {
	return uint64(e) & types.PayloadMask
}

func (e Entry) IsMarked() bool { return uint64(e)&types.MarkBit != 0 }

func (e Entry) WithMarkBit() Entry    { return Entry(uint64(e) | types.MarkBit) }
func (e Entry) WithoutMarkBit() Entry { return Entry(uint64(e) &^ types.MarkBit) }

// Untag returns the pointer stored in a regular entry after checking that it
// was written with tag. A mismatch panics: returning the payload anyway would
// hand a pointer of one kind to code expecting another.
func (e Entry) Untag(tag types.Tag) uint64 {
	if !e.IsRegular() {
		panic(types.Violation(fmt.Sprintf("untag of %v entry", e.Kind())))
	}
	if got, want := e.Tag(), tag.Unmarked(); got != want {
		panic(types.Violation(fmt.Sprintf("tag mismatch: entry has %v, caller expects %v", got, want)))
	}
	return e.Payload()
}

func (e Entry) String() string {
	switch e.Kind() {
	case KindFreelist:
		return fmt.Sprintf("free{next=%d size=%d}", e.NextFreelistEntry(), e.FreelistSize())
	case KindEvacuation:
		return fmt.Sprintf("evac{loc=%#x}", uint64(e.HandleLocation()))
	default:
		return fmt.Sprintf("regular{%#x %v marked=%t}", e.Payload(), e.Tag(), e.IsMarked())
	}
}
