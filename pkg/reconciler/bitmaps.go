package reconciler

import (
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// RescaleStepCoreBitmaps re-derives step's per-node core bitmaps against
// the freshly parsed node records in nodesByName, corresponding to the
// original's node-index walk that relocates core_bitmap_job slots from
// the old node-index space to the new one after a reconfigure. Since
// this module indexes a step's per-node bitmap by node name rather than
// by a position in a single global bitstring, there is no index to
// translate; what can change is a node's own core count, in which case
// the step's recorded bitmap for that node is resized (truncated or
// zero-extended) to the new TotalCores(), and any previously-held cores
// beyond the new boundary are dropped. Returns whether any bitmap
// actually changed shape.
func RescaleStepCoreBitmaps(step *types.Step, nodesByName map[string]*types.Node) (bool, error) {
	rescaled := false
	for i, name := range step.NodeNames {
		node, ok := nodesByName[name]
		if !ok {
			return rescaled, ridgeerr.New(ridgeerr.CodeStructural, "node "+name+" vanished while rescaling step bitmap")
		}
		if i >= len(step.CoreBitmaps) {
			continue
		}
		old := step.CoreBitmaps[i]
		total := node.TotalCores()
		if len(old) == total {
			continue
		}
		resized := make([]bool, total)
		copy(resized, old) // copy truncates or zero-extends automatically
		step.CoreBitmaps[i] = resized
		rescaled = true
	}
	return rescaled, nil
}
