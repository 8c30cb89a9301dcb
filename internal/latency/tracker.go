// internal/latency/tracker.go
package latency

import (
	"sync"
	"time"
)

// Statistics summarises recorded round trips in milliseconds
type Statistics struct {
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
	Count int     `json:"count"`
}

// Tracker records wall-clock round trips. Samples are kept in order
// until Reset. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	start   time.Time
	started bool
	samples []float64
	now     func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Start marks the beginning of a measurement, replacing any pending one
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.now()
	t.started = true
}

// Stop records the time since Start in milliseconds and returns it.
// Without a pending Start it records nothing and returns 0.
func (t *Tracker) Stop() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return 0
	}
	ms := float64(t.now().Sub(t.start)) / float64(time.Millisecond)
	t.started = false
	t.samples = append(t.samples, ms)
	return ms
}

// Record appends a measurement taken elsewhere
func (t *Tracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, float64(d)/float64(time.Millisecond))
}

// Statistics returns min, max and mean. All fields are zero when empty.
func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return Statistics{}
	}

	stats := Statistics{Min: t.samples[0], Max: t.samples[0], Count: len(t.samples)}
	var sum float64
	for _, s := range t.samples {
		stats.Min = min(stats.Min, s)
		stats.Max = max(stats.Max, s)
		sum += s
	}
	stats.Avg = sum / float64(len(t.samples))
	return stats
}

// Samples returns a copy of the recorded measurements in order
func (t *Tracker) Samples() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.samples...)
}

// Reset drops all samples and any pending Start
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = nil
	t.started = false
}
