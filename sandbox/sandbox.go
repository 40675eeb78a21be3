package sandbox

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/eptable/internal/mmfile"
	"github.com/joshuapare/eptable/pkg/types"
)

const (
	// SlotSize is the width of one handle slot.
	SlotSize = 4

	// commitChunk is how much memory is committed each time the bump pointer
	// runs past the committed end.
	commitChunk = 64 << 10
)

var (
	// ErrNoSpace indicates the sandbox reservation is exhausted.
	ErrNoSpace = errors.New("sandbox: no space left")
	// ErrBadSize indicates an invalid sandbox or allocation size.
	ErrBadSize = errors.New("sandbox: invalid size")
)

// Sandbox is a fixed reservation of handle slots.
type Sandbox struct {
	region *mmfile.Region
	slots  []atomic.Uint32

	mu        sync.Mutex
	next      uint64 // bump pointer, byte offset of the next free slot
	committed uint64 // bytes committed so far

	// end is the first address past the allocated slots. Readers check
	// against it without taking mu.
	end atomic.Uint64
}

// New reserves a sandbox of size bytes. size is rounded up to whole slots.
func New(size int) (*Sandbox, error) {
	if size < 2*SlotSize || uint64(size) > uint64(types.MaxAddress) {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	size = (size + SlotSize - 1) &^ (SlotSize - 1)

	region, err := mmfile.Reserve(size)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	data := region.Bytes()
	s := &Sandbox{
		region: region,
		slots:  unsafe.Slice((*atomic.Uint32)(unsafe.Pointer(&data[0])), size/SlotSize),
		next:   SlotSize, // address 0 stays unused
	}
	s.end.Store(SlotSize)
	return s, nil
}

// Size returns the reservation size in bytes.
func (s *Sandbox) Size() int { return len(s.slots) * SlotSize }

// Used returns the number of bytes handed out, including the unused slot at
// address 0.
func (s *Sandbox) Used() int { return int(s.end.Load()) }

// AllocSlots allocates n consecutive, zeroed handle slots and returns the
// address of the first one.
func (s *Sandbox) AllocSlots(n int) (types.Address, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d slots", ErrBadSize, n)
	}
	need := uint64(n) * SlotSize

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.region == nil {
		return 0, ErrNoSpace
	}
	off := s.next
	if need > uint64(s.Size())-off {
		return 0, fmt.Errorf("%w: need %d bytes, %d left", ErrNoSpace, need, uint64(s.Size())-off)
	}
	for off+need > s.committed {
		chunk := min(uint64(commitChunk), uint64(s.Size())-s.committed)
		if err := s.region.Commit(int(s.committed), int(chunk)); err != nil {
			return 0, fmt.Errorf("sandbox: commit: %w", err)
		}
		s.committed += chunk
	}
	s.next = off + need
	s.end.Store(s.next)
	return types.Address(off), nil
}

// slot resolves loc to its slot. Addresses outside the allocated range or
// not slot-aligned are consistency violations: they can only come from a
// corrupted evacuation entry or a forged location.
func (s *Sandbox) slot(loc types.Address) *atomic.Uint32 {
	if uint64(loc)%SlotSize != 0 || uint64(loc) == 0 || uint64(loc)+SlotSize > s.end.Load() {
		panic(types.Violation(fmt.Sprintf("sandbox address %#x out of range", uint64(loc))))
	}
	return &s.slots[loc/SlotSize]
}

// LoadHandle atomically reads the handle stored at loc.
func (s *Sandbox) LoadHandle(loc types.Address) types.Handle {
	return types.Handle(s.slot(loc).Load())
}

// StoreHandle atomically writes h to the slot at loc.
func (s *Sandbox) StoreHandle(loc types.Address, h types.Handle) {
	s.slot(loc).Store(uint32(h))
}

// Close releases the reservation. Slots must not be accessed afterwards.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.region == nil {
		return nil
	}
	err := s.region.Release()
	s.region = nil
	s.slots = nil
	s.end.Store(0)
	return err
}
