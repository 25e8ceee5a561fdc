package libav

import (
	"time"

	"github.com/asticode/go-astiav"
)

func toDuration(pts int64, timeBase astiav.Rational) time.Duration {
	if timeBase.Den() == 0 {
		return 0
	}
	return time.Duration(float64(pts) * timeBase.Float64() * float64(time.Second))
}

// monotonic keeps the timestamps non-decreasing: broken inputs may
// produce presentation timestamps going backwards.
func monotonic(prev, cur time.Duration) time.Duration {
	if cur < prev {
		return prev
	}
	return cur
}
