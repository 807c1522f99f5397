package core

import (
	"sync"
	"time"

	"github.com/spaghettifunk/posebridge/engine/containers"
)

// AVG_COUNT is the number of most recent conversions the rolling average
// is computed over.
const AVG_COUNT int = 30

// Metrics tracks throughput of a batch run. Safe for concurrent use.
type Metrics struct {
	mutex     sync.Mutex
	durations *containers.RingQueue[time.Duration]
	started   time.Time
	succeeded int
	failed    int
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations: containers.NewRingQueue[time.Duration](AVG_COUNT),
		started:   time.Now(),
	}
}

// Record adds the outcome of one file conversion.
func (m *Metrics) Record(elapsed time.Duration, ok bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.durations.Push(elapsed)
	if ok {
		m.succeeded++
	} else {
		m.failed++
	}
}

// AverageDuration is the mean over the last AVG_COUNT conversions.
func (m *Metrics) AverageDuration() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	values := m.durations.Values()
	if len(values) == 0 {
		return 0
	}
	var total time.Duration
	for _, v := range values {
		total += v
	}
	return total / time.Duration(len(values))
}

// FilesPerSecond is the overall throughput since the metrics were created.
func (m *Metrics) FilesPerSecond() float64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	elapsed := time.Since(m.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.succeeded+m.failed) / elapsed
}

func (m *Metrics) Counts() (succeeded, failed int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.succeeded, m.failed
}
