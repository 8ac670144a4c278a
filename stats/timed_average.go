// Package stats provides rolling rate estimators used for bandwidth
// diagnostics.
package stats

import "time"

type sample struct {
	seconds float64
	bytes   float64
}

// TimedAverage estimates a per-second rate over a rolling time window.
// It is fed once per tick with the elapsed time and the amount observed
// during that tick. Not safe for concurrent use.
type TimedAverage struct {
	window       float64
	samples      []sample
	totalSeconds float64
	totalBytes   float64
}

// NewTimedAverage creates an averager over the given window. A non-positive
// window defaults to one second.
func NewTimedAverage(window time.Duration) *TimedAverage {
	if window <= 0 {
		window = time.Second
	}
	return &TimedAverage{window: window.Seconds()}
}

// Update folds a new sample into the window. Samples with no elapsed time
// carry no weight and are ignored.
func (a *TimedAverage) Update(elapsedSeconds float64, bytes uint64) {
	if elapsedSeconds <= 0 {
		return
	}
	a.samples = append(a.samples, sample{seconds: elapsedSeconds, bytes: float64(bytes)})
	a.totalSeconds += elapsedSeconds
	a.totalBytes += float64(bytes)

	// Evict the oldest sample while the newer ones alone still span more
	// than the window.
	for len(a.samples) > 1 && a.totalSeconds-a.samples[0].seconds > a.window {
		oldest := a.samples[0]
		a.samples = a.samples[1:]
		a.totalSeconds -= oldest.seconds
		a.totalBytes -= oldest.bytes
	}
}

// Average returns the rate in units per second over the retained window.
func (a *TimedAverage) Average() float64 {
	if a.totalSeconds <= 0 {
		return 0
	}
	return a.totalBytes / a.totalSeconds
}

// Reset discards every sample.
func (a *TimedAverage) Reset() {
	a.samples = a.samples[:0]
	a.totalSeconds = 0
	a.totalBytes = 0
}
