package completion

import (
	"fmt"
	"math"

	"github.com/mrsinham/bidsify/internal/bids"
)

// phaseAxes maps the first character of PhaseEncodingDirection to a voxel axis.
var phaseAxes = map[byte]int{'i': 0, 'j': 1, 'k': 2}

// NeedsReadoutTime reports whether TotalReadoutTime should be computed for meta.
func NeedsReadoutTime(meta bids.Metadata, overwrite bool) bool {
	return meta.Has("EffectiveEchoSpacing") && (overwrite || !meta.Has("TotalReadoutTime"))
}

// TotalReadoutTime computes EffectiveEchoSpacing * (effective lines - 1),
// where the effective lines are the image extent along the phase-encoding
// axis divided (floor) by ParallelReductionFactorInPlane.
func TotalReadoutTime(meta bids.Metadata, shape []int) (float64, error) {
	ees, ok := meta.Float("EffectiveEchoSpacing")
	if !ok {
		return 0, &bids.MissingFieldError{Field: "EffectiveEchoSpacing"}
	}
	ped, ok := meta.String("PhaseEncodingDirection")
	if !ok || ped == "" {
		return 0, &bids.MissingFieldError{Field: "PhaseEncodingDirection"}
	}
	axis, ok := phaseAxes[ped[0]]
	if !ok {
		return 0, fmt.Errorf("invalid PhaseEncodingDirection %q", ped)
	}
	if axis >= len(shape) {
		return 0, fmt.Errorf("phase-encoding axis %d outside image shape %v", axis, shape)
	}

	reduction := 1.0
	if meta.Has("ParallelReductionFactorInPlane") {
		r, ok := meta.Float("ParallelReductionFactorInPlane")
		if !ok || r <= 0 {
			return 0, fmt.Errorf("invalid ParallelReductionFactorInPlane %v", meta["ParallelReductionFactorInPlane"])
		}
		reduction = r
	}

	lines := math.Floor(float64(shape[axis]) / reduction)
	return ees * (lines - 1), nil
}
