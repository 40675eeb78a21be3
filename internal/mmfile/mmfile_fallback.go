//go:build !unix

package mmfile

import (
	"os"
	"unsafe"
)

func pageSize() int { return os.Getpagesize() }

// reserve falls back to a heap allocation. It is backed by uint64s so the
// memory is suitably aligned for 64-bit atomics.
func reserve(size int) ([]byte, error) {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size), nil
}

func commit([]byte) error { return nil }

func decommit(b []byte) error {
	clear(b)
	return nil
}

func release([]byte) error { return nil }
