package indicator

import (
	"sync"

	ehlers "github.com/lmpizarro/go_ehlers_indicators"
)

const (
	DefaultMAMAFastLimit = 0.5
	DefaultMAMASlowLimit = 0.05
)

// MAMA is the MESA Adaptive Moving Average over a sliding window. Until the
// window is filled it returns the arithmetic mean of the samples seen.
type MAMA[T Number] struct {
	FastLimit float64
	SlowLimit float64

	locker sync.Mutex
	window *window
}

var _ MovingAverage[int64] = (*MAMA[int64])(nil)

func NewMAMA[T Number](windowSize int) *MAMA[T] {
	return &MAMA[T]{
		FastLimit: DefaultMAMAFastLimit,
		SlowLimit: DefaultMAMASlowLimit,
		window:    newWindow(windowSize),
	}
}

func (m *MAMA[T]) Update(v T) T {
	m.locker.Lock()
	defer m.locker.Unlock()

	m.window.push(float64(v))
	samples := m.window.chronological()
	if !m.window.full() {
		var sum float64
		for _, s := range samples {
			sum += s
		}
		return T(sum / float64(len(samples)))
	}

	smoothed := ehlers.MAMA(samples, m.FastLimit, m.SlowLimit)
	return T(smoothed[len(smoothed)-1])
}

func (m *MAMA[T]) Valid() bool {
	m.locker.Lock()
	defer m.locker.Unlock()
	return m.window.full()
}
