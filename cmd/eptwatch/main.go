package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joshuapare/eptable/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	opts, err := parseFlags(os.Args[1:], flag.ExitOnError)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("eptwatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built: %s\n", date)
		os.Exit(0)
	}
	cfg := opts.cfg

	// Initialize logger (must be before any logging calls)
	if err := logger.Init(logger.Options{
		Enabled: opts.debug,
		Name:    "eptwatch",
		Level:   slog.LevelDebug,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to init logging: %v\n", err)
	}
	defer logger.Close()
	logger.Info("starting eptwatch", "mutators", cfg.Mutators, "ops", cfg.Ops, "debug", opts.debug)

	m := NewModel(cfg, logger.L)
	p := tea.NewProgram(m, tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		logger.Error("TUI error", "error", err)
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}

	if model, ok := finalModel.(Model); ok {
		model.Close()
		if model.err != nil {
			fmt.Fprintf(os.Stderr, "Workload failed: %v\n", model.err)
			os.Exit(1)
		}
	}
	logger.Info("eptwatch exited normally")
}

func printHelp() {
	fmt.Println("eptwatch - Live view of an external pointer table under load")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  eptwatch [options]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Runs mutator goroutines against a table while a collector marks,")
	fmt.Println("  compacts and sweeps it, and shows capacity, freelist, compaction")
	fmt.Println("  outcome and a per-cycle log as the run progresses.")
	fmt.Println()
	fmt.Println("  Keys:")
	fmt.Println("    ↑/k, ↓/j    Scroll the cycle log")
	fmt.Println("    y           Copy the final report as JSON")
	fmt.Println("    ?           Show help")
	fmt.Println("    q           Quit (stops the run)")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -mutators N      Concurrent mutator goroutines (default 4)")
	fmt.Println("  -ops N           Operations per mutator (default 200000)")
	fmt.Println("  -min-cycles N    Minimum number of GC cycles (default 3)")
	fmt.Println("  -workers N       Marking goroutines, 0 = GOMAXPROCS (default 0)")
	fmt.Println("  -seed N          Random seed (default 1)")
	fmt.Println("  -block N         Entries per growth block (default 1024)")
	fmt.Println("  -max-capacity N  Maximum table capacity (default 1048576)")
	fmt.Println("  -release N       Percent of objects each mutator drops at the end (default 50)")
	fmt.Println("  -no-compact      Never compact the table")
	fmt.Println("  -debug           Enable debug logging to ~/.eptwatch/logs/")
	fmt.Println("  -version         Show version information")
	fmt.Println()
	fmt.Println("For non-interactive runs, use 'eptctl stress' instead.")
}
