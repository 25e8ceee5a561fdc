// Package indicator provides smoothing filters for noisy measurements,
// such as per-frame segmentation latency.
package indicator

import (
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

type MovingAverage[T Number] interface {
	// Update adds a sample and returns the current smoothed value.
	Update(v T) T

	// Valid reports whether enough samples were collected for the smoothed
	// value to be meaningful.
	Valid() bool
}
