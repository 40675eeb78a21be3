//go:build eptable_debug

package table

import "github.com/joshuapare/eptable/pkg/types"

// debugChecks is true in builds with the eptable_debug tag.
const debugChecks = true

// markVisited tags an evacuated handle slot so that a second Mark through the
// same slot is detected.
func markVisited(space HandleSpace, loc types.Address, h types.Handle) {
	space.StoreHandle(loc, h|types.VisitedHandleMarker)
}
