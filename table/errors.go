package table

import (
	"errors"
	"fmt"

	"github.com/joshuapare/eptable/pkg/types"
)

var (
	// ErrTableFull indicates the table cannot grow past its maximum capacity.
	ErrTableFull = errors.New("table: maximum capacity reached")

	// ErrBadOptions indicates invalid table options.
	ErrBadOptions = fmt.Errorf("table: %w", types.ErrBadConfig)

	// ErrBadBoundary indicates an evacuation boundary outside the table.
	ErrBadBoundary = errors.New("table: invalid evacuation boundary")

	// ErrCompacting indicates compaction was already started this cycle.
	ErrCompacting = fmt.Errorf("table: already compacting: %w", types.ErrBadState)
)

// violation panics with a consistency error.
func violation(format string, args ...any) {
	panic(types.Violation(fmt.Sprintf(format, args...)))
}
