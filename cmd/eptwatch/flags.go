package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/joshuapare/eptable/internal/workload"
)

// cliOptions is the parsed command line.
type cliOptions struct {
	cfg         workload.Config
	debug       bool
	showVersion bool
}

func parseFlags(args []string, handling flag.ErrorHandling) (cliOptions, error) {
	opts := cliOptions{cfg: workload.DefaultConfig()}
	opts.cfg.Ops = 200000
	cfg := &opts.cfg

	fs := flag.NewFlagSet("eptwatch", handling)
	fs.IntVar(&cfg.Mutators, "mutators", cfg.Mutators, "Concurrent mutator goroutines")
	fs.IntVar(&cfg.Ops, "ops", cfg.Ops, "Operations per mutator")
	fs.IntVar(&cfg.MinCycles, "min-cycles", cfg.MinCycles, "Minimum number of GC cycles")
	uint32Var(fs, &cfg.Block, "block", "Entries per growth block")
	uint32Var(fs, &cfg.MaxCapacity, "max-capacity", "Maximum table capacity in entries")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Marking goroutines (0 = GOMAXPROCS)")
	fs.IntVar(&cfg.Release, "release", cfg.Release, "Percent of objects each mutator drops at the end")
	noCompact := fs.Bool("no-compact", false, "Never compact the table")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.eptwatch/logs/")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.Usage = printHelp

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	cfg.Compact = !*noCompact
	return opts, nil
}

// uint32Var defines a flag that rejects values outside the uint32 range
// instead of truncating them. The current value of p is the default.
func uint32Var(fs *flag.FlagSet, p *uint32, name, usage string) {
	fs.Func(name, fmt.Sprintf("%s (default %d)", usage, *p), func(s string) error {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		*p = uint32(v)
		return nil
	})
}
