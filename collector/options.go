package collector

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/joshuapare/eptable/pkg/types"
)

// DefaultMinRootsPerWorker is the smallest batch of roots worth a goroutine.
const DefaultMinRootsPerWorker = 256

var (
	// ErrDuplicateRoot indicates a handle slot listed twice in one root set.
	ErrDuplicateRoot = errors.New("collector: duplicate root")

	// ErrBadOptions indicates invalid collector options.
	ErrBadOptions = fmt.Errorf("collector: %w", types.ErrBadConfig)
)

// Options configures a Collector. The zero value selects the defaults.
type Options struct {
	// Workers caps the marking goroutines. Zero means GOMAXPROCS.
	Workers int

	// MinRootsPerWorker is the batch size below which marking stays on
	// fewer goroutines.
	MinRootsPerWorker int

	// DisableCompaction skips the compaction decision.
	DisableCompaction bool

	// StopTheWorld parks all mutators and returns a function that resumes
	// them. It is called once per cycle around the sweep. Nil means the
	// caller guarantees no mutator runs during Collect.
	StopTheWorld func() (resume func())

	// Logger receives one record per cycle. Nil discards.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers == 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.MinRootsPerWorker == 0 {
		o.MinRootsPerWorker = DefaultMinRootsPerWorker
	}
	if o.StopTheWorld == nil {
		o.StopTheWorld = func() func() { return func() {} }
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

func (o Options) validate() error {
	if o.Workers < 0 {
		return fmt.Errorf("%w: Workers %d", ErrBadOptions, o.Workers)
	}
	if o.MinRootsPerWorker < 0 {
		return fmt.Errorf("%w: MinRootsPerWorker %d", ErrBadOptions, o.MinRootsPerWorker)
	}
	return nil
}
