// Package types defines the small, copyable value types shared by the
// external pointer table and its callers.
//
// Handles, tags and sandbox addresses are plain integers so they can live in
// managed object fields and be passed between goroutines by value. The layout
// constants here describe the in-memory shape of a table entry and must stay
// stable for any code that relies on the sandboxed field layout.
//
// This package has no dependencies beyond the standard library.
package types
