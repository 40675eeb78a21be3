package types

// Handle is an opaque reference to one table entry. It is what a managed
// object stores instead of a raw external pointer.
type Handle uint32

// Address is the location of a handle slot inside the sandbox, expressed as a
// byte offset from the sandbox base. Only the low 48 bits are usable, which
// is what an evacuation entry can record.
type Address uint64

const (
	// NullHandle never resolves to an entry.
	NullHandle Handle = 0

	// IndexShift scales entry indices into handles. The spare low bits leave
	// room for markers carried by the handle itself.
	IndexShift = 6

	// MaxEntries bounds the table size. Freelist nodes store both the next
	// index and the chain length in 24 bits each.
	MaxEntries = 1 << 24

	// VisitedHandleMarker is OR-ed into a handle slot by debug builds once the
	// marker has evacuated it, so a second visit is caught.
	VisitedHandleMarker Handle = 0x1

	// MaxAddress is the largest sandbox address an evacuation entry can hold.
	MaxAddress Address = 1<<48 - 1
)

// HandleFromIndex converts an entry index into its handle.
func HandleFromIndex(index uint32) Handle {
	return Handle(index << IndexShift)
}

// Index returns the entry index the handle refers to. Marker bits are ignored.
func (h Handle) Index() uint32 {
	return uint32(h) >> IndexShift
}

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool { return h == NullHandle }

// Unmarked strips marker bits from a handle loaded out of a slot.
func (h Handle) Unmarked() Handle {
	return h &^ VisitedHandleMarker
}
