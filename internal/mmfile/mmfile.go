// Package mmfile provides platform-specific helpers for reserving address
// space up front and committing it page by page.
//
// A Region never moves once reserved, so slices and pointers derived from
// Bytes stay valid while pages are committed and decommitted underneath.
package mmfile

import (
	"errors"
	"fmt"
)

var (
	// ErrReleased indicates the region was already released.
	ErrReleased = errors.New("mmfile: region released")
	// ErrRange indicates an offset/length outside the region.
	ErrRange = errors.New("mmfile: range outside region")
)

// Region is a reserved span of memory. Only committed pages may be touched.
type Region struct {
	data     []byte
	pageSize int
}

// Reserve reserves size bytes of address space. Nothing is committed yet.
func Reserve(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmfile: invalid reservation size %d", size)
	}
	data, err := reserve(size)
	if err != nil {
		return nil, fmt.Errorf("mmfile: reserve %d bytes: %w", size, err)
	}
	return &Region{data: data, pageSize: pageSize()}, nil
}

// Bytes returns the whole reservation, committed or not.
func (r *Region) Bytes() []byte { return r.data }

// Len returns the reservation size in bytes.
func (r *Region) Len() int { return len(r.data) }

// PageSize returns the commit granularity.
func (r *Region) PageSize() int { return r.pageSize }

// Commit makes [off, off+n) readable and writable. The range is widened to
// whole pages.
func (r *Region) Commit(off, n int) error {
	if err := r.check(off, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	start := alignDown(off, r.pageSize)
	end := min(alignUp(off+n, r.pageSize), len(r.data))
	return commit(r.data[start:end])
}

// Decommit returns the pages lying entirely inside [off, off+n) to the
// system. Partially covered pages stay committed. Contents of decommitted
// pages are unspecified once committed again.
func (r *Region) Decommit(off, n int) error {
	if err := r.check(off, n); err != nil {
		return err
	}
	start := alignUp(off, r.pageSize)
	end := alignDown(off+n, r.pageSize)
	if off+n == len(r.data) {
		end = len(r.data)
	}
	if start >= end {
		return nil
	}
	return decommit(r.data[start:end])
}

// Release unmaps the region. Calling it twice returns ErrReleased.
func (r *Region) Release() error {
	if r.data == nil {
		return ErrReleased
	}
	data := r.data
	r.data = nil
	return release(data)
}

func (r *Region) check(off, n int) error {
	if r.data == nil {
		return ErrReleased
	}
	if off < 0 || n < 0 || off > len(r.data) || n > len(r.data)-off {
		return fmt.Errorf("%w: off=%d len=%d size=%d", ErrRange, off, n, len(r.data))
	}
	return nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func alignDown(n, align int) int {
	return n &^ (align - 1)
}
