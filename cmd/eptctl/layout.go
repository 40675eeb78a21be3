package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/eptable/internal/entry"
	"github.com/joshuapare/eptable/pkg/types"
	"github.com/joshuapare/eptable/table"
)

func init() {
	rootCmd.AddCommand(newLayoutCmd())
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout [entry-word...]",
		Short: "Show the entry layout and decode entry words",
		Long: `The layout command prints the bit layout of table entries and handles
together with the reserved values. Any arguments are parsed as 64-bit entry
words (decimal, or hex with a 0x prefix) and decoded.

Example:
  eptctl layout
  eptctl layout 0x4021000000001000 0x3fff000100000002`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(args)
		},
	}
	return cmd
}

type LayoutInfo struct {
	PayloadBits     int    `json:"payload_bits"`
	TagShift        int    `json:"tag_shift"`
	TagBits         int    `json:"tag_bits"`
	MarkBit         uint64 `json:"mark_bit"`
	FreeEntryTagID  uint16 `json:"free_entry_tag_id"`
	EvacuationTagID uint16 `json:"evacuation_entry_tag_id"`

	IndexShift          int    `json:"index_shift"`
	MaxEntries          uint32 `json:"max_entries"`
	VisitedHandleMarker uint32 `json:"visited_handle_marker"`

	NotCompactingMarker     uint32 `json:"not_compacting_marker"`
	CompactionAbortedMarker uint32 `json:"compaction_aborted_marker"`
	DefaultEntriesPerBlock  uint32 `json:"default_entries_per_block"`

	Decoded []DecodedEntry `json:"decoded,omitempty"`
}

type DecodedEntry struct {
	Word    string `json:"word"`
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

func layoutInfo() LayoutInfo {
	return LayoutInfo{
		PayloadBits:             types.PayloadBits,
		TagShift:                types.TagShift,
		TagBits:                 types.TagBits,
		MarkBit:                 types.MarkBit,
		FreeEntryTagID:          types.FreeEntryTagID,
		EvacuationTagID:         types.EvacuationEntryTagID,
		IndexShift:              types.IndexShift,
		MaxEntries:              types.MaxEntries,
		VisitedHandleMarker:     uint32(types.VisitedHandleMarker),
		NotCompactingMarker:     table.NotCompactingMarker,
		CompactionAbortedMarker: table.CompactionAbortedMarker,
		DefaultEntriesPerBlock:  table.DefaultEntriesPerBlock,
	}
}

func runLayout(args []string) error {
	info := layoutInfo()
	for _, arg := range args {
		word, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid entry word %q: %w", arg, err)
		}
		e := entry.Entry(word)
		info.Decoded = append(info.Decoded, DecodedEntry{
			Word:    fmt.Sprintf("%#016x", word),
			Kind:    e.Kind().String(),
			Summary: e.String(),
		})
	}

	if jsonOut {
		return printJSON(info)
	}

	printInfo("Entry (64 bits):\n")
	printInfo("  bits  0-%v  payload, freelist next/size, or handle location\n", info.PayloadBits-1)
	printInfo("  bits %v-%v  tag id\n", info.TagShift, info.TagShift+info.TagBits-1)
	printInfo("  bit  62     mark bit (%#x)\n", info.MarkBit)
	printInfo("  bit  63     zero\n")
	printInfo("  free entry tag id: %#x\n", info.FreeEntryTagID)
	printInfo("  evacuation entry tag id: %#x\n\n", info.EvacuationTagID)

	printInfo("Handle (32 bits):\n")
	printInfo("  index << %v, null handle 0, index 0 reserved\n", info.IndexShift)
	printInfo("  max entries: %d\n", info.MaxEntries)
	printInfo("  visited marker (debug builds): %#x\n\n", info.VisitedHandleMarker)

	printInfo("Compaction:\n")
	printInfo("  not compacting: %#x\n", info.NotCompactingMarker)
	printInfo("  aborted marker: %#x\n", info.CompactionAbortedMarker)
	printInfo("  default entries per block: %d\n", info.DefaultEntriesPerBlock)

	if len(info.Decoded) > 0 {
		printInfo("\nDecoded:\n")
		for _, d := range info.Decoded {
			printInfo("  %s  %s\n", d.Word, d.Summary)
		}
	}
	return nil
}
