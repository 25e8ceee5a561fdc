package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/avbackground/indicator"
	"github.com/xaionaro-go/avbackground/types"
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/stat"
)

const latencyWindowSize = 64

// Stats is a snapshot of the counters of a Controller.
//
// Once the pipeline is quiescent FramesAdmitted equals
// FramesEmitted + DroppedTotal().
type Stats struct {
	State          types.PipelineState
	Generation     uint64
	FramesAdmitted uint64
	FramesEmitted  uint64
	FramesDropped  map[types.DropReason]uint64

	// SegmentationLatency is the smoothed (MESA adaptive) latency of
	// successful Segment calls.
	SegmentationLatency    time.Duration
	SegmentationLatencyP95 time.Duration
}

func (s Stats) DroppedTotal() uint64 {
	var total uint64
	for _, count := range s.FramesDropped {
		total += count
	}
	return total
}

func (s Stats) String() string {
	var drops []string
	for reason := types.DropReasonUndefined + 1; reason < types.EndOfDropReason; reason++ {
		if count := s.FramesDropped[reason]; count > 0 {
			drops = append(drops, fmt.Sprintf("%s:%s", reason, humanize.Comma(int64(count))))
		}
	}
	return fmt.Sprintf(
		"state:%s gen:%d admitted:%s emitted:%s dropped:%s [%s] latency:%v p95:%v",
		s.State, s.Generation,
		humanize.Comma(int64(s.FramesAdmitted)),
		humanize.Comma(int64(s.FramesEmitted)),
		humanize.Comma(int64(s.DroppedTotal())),
		strings.Join(drops, " "),
		s.SegmentationLatency.Round(time.Microsecond),
		s.SegmentationLatencyP95.Round(time.Microsecond),
	)
}

type statistics struct {
	admitted atomic.Uint64
	emitted  atomic.Uint64
	dropped  [types.EndOfDropReason]atomic.Uint64

	latencyAvg     *indicator.MAMA[int64]
	latencySmooth  atomic.Int64
	latencyLocker  sync.Mutex
	latencySamples []float64
	latencyNext    int
}

func newStatistics() *statistics {
	return &statistics{
		latencyAvg: indicator.NewMAMA[int64](latencyWindowSize),
	}
}

func (s *statistics) observeLatency(d time.Duration) {
	s.latencySmooth.Store(s.latencyAvg.Update(int64(d)))

	s.latencyLocker.Lock()
	defer s.latencyLocker.Unlock()
	if len(s.latencySamples) < latencyWindowSize {
		s.latencySamples = append(s.latencySamples, float64(d))
		return
	}
	s.latencySamples[s.latencyNext] = float64(d)
	s.latencyNext = (s.latencyNext + 1) % latencyWindowSize
}

func (s *statistics) latencyP95() time.Duration {
	s.latencyLocker.Lock()
	sorted := slices.Clone(s.latencySamples)
	s.latencyLocker.Unlock()
	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	return time.Duration(stat.Quantile(0.95, stat.Empirical, sorted, nil))
}

func (s *statistics) snapshot() Stats {
	result := Stats{
		FramesAdmitted:         s.admitted.Load(),
		FramesEmitted:          s.emitted.Load(),
		FramesDropped:          map[types.DropReason]uint64{},
		SegmentationLatency:    time.Duration(s.latencySmooth.Load()),
		SegmentationLatencyP95: s.latencyP95(),
	}
	for reason := range s.dropped {
		if count := s.dropped[reason].Load(); count > 0 {
			result.FramesDropped[types.DropReason(reason)] = count
		}
	}
	return result
}
