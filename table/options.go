package table

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joshuapare/eptable/pkg/types"
)

const (
	// DefaultEntriesPerBlock is the growth unit: 64KB worth of entries.
	DefaultEntriesPerBlock = 8192

	// DefaultCompactionFreeRatio is the share of free entries at which
	// compaction starts.
	DefaultCompactionFreeRatio = 0.10
)

// Runtime logging toggle, read once. Only consulted when Options.Logger is nil.
var logTable = os.Getenv("EPTABLE_LOG") != ""

// Options configures a Table. The zero value selects the defaults.
type Options struct {
	// EntriesPerBlock is how many entries each growth step adds. Must be >= 2.
	EntriesPerBlock uint32

	// MaxCapacity bounds the table in entries and sizes the address space
	// reservation. At most types.MaxEntries.
	MaxCapacity uint32

	// CompactionFreeRatio is the minimum free/capacity ratio at which
	// StartCompactingIfNeeded picks a boundary.
	CompactionFreeRatio float64

	// MinCompactionCapacity keeps small tables from compacting.
	MinCompactionCapacity uint32

	// Logger receives growth, compaction and sweep events. Nil discards them
	// unless EPTABLE_LOG is set, in which case they go to stderr.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.EntriesPerBlock == 0 {
		o.EntriesPerBlock = DefaultEntriesPerBlock
	}
	if o.MaxCapacity == 0 {
		o.MaxCapacity = types.MaxEntries
	}
	if o.CompactionFreeRatio == 0 {
		o.CompactionFreeRatio = DefaultCompactionFreeRatio
	}
	if o.Logger == nil {
		o.Logger = defaultLogger()
	}
	return o
}

func (o Options) validate() error {
	switch {
	case o.EntriesPerBlock < 2:
		return fmt.Errorf("%w: EntriesPerBlock %d < 2", ErrBadOptions, o.EntriesPerBlock)
	case o.MaxCapacity > types.MaxEntries:
		return fmt.Errorf("%w: MaxCapacity %d > %d", ErrBadOptions, o.MaxCapacity, types.MaxEntries)
	case o.MaxCapacity < o.EntriesPerBlock:
		return fmt.Errorf("%w: MaxCapacity %d < EntriesPerBlock %d", ErrBadOptions, o.MaxCapacity, o.EntriesPerBlock)
	case o.CompactionFreeRatio < 0 || o.CompactionFreeRatio > 1:
		return fmt.Errorf("%w: CompactionFreeRatio %v", ErrBadOptions, o.CompactionFreeRatio)
	}
	return nil
}

func defaultLogger() *slog.Logger {
	if logTable {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
