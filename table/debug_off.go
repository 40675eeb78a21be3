//go:build !eptable_debug

package table

import "github.com/joshuapare/eptable/pkg/types"

// debugChecks is false unless built with the eptable_debug tag.
const debugChecks = false

func markVisited(HandleSpace, types.Address, types.Handle) {}
