package mcphost

import (
	"slices"
	"sync"
)

// rollingWindow keeps the last N call latencies and outcomes of one tool.
// All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []int64 // ring buffer of latencies in ms
	failed  []bool  // parallel ring buffer of outcomes
	pos     int     // next write position
	count   int     // total samples written
	size    int
}

// newRollingWindow creates a window of the given capacity. A size ≤ 0
// defaults to 100.
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = 100
	}
	return &rollingWindow{
		samples: make([]int64, size),
		failed:  make([]bool, size),
		size:    size,
	}
}

// Record adds one measurement, overwriting the oldest once the ring is full.
func (w *rollingWindow) Record(latencyMs int64, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = latencyMs
	w.failed[w.pos] = isError
	w.pos = (w.pos + 1) % w.size
	w.count++
}

func (w *rollingWindow) windowLen() int {
	return min(w.count, w.size)
}

// sorted returns a sorted copy of the samples in the window.
func (w *rollingWindow) sorted() []int64 {
	n := w.windowLen()
	if n == 0 {
		return nil
	}
	cp := slices.Clone(w.samples[:n])
	slices.Sort(cp)
	return cp
}

func (w *rollingWindow) percentile(p float64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.sorted()
	if len(s) == 0 {
		return 0
	}
	return s[int(float64(len(s)-1)*p)]
}

// P50 returns the median latency in ms, or 0 without measurements.
func (w *rollingWindow) P50() int64 { return w.percentile(0.5) }

// P99 returns the 99th-percentile latency in ms, or 0 without measurements.
func (w *rollingWindow) P99() int64 { return w.percentile(0.99) }

// ErrorRate returns the fraction of failed calls in the window.
func (w *rollingWindow) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.windowLen()
	if n == 0 {
		return 0
	}
	errs := 0
	for _, f := range w.failed[:n] {
		if f {
			errs++
		}
	}
	return float64(errs) / float64(n)
}

// Count returns the total number of recorded calls.
func (w *rollingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
