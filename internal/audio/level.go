package audio

import (
	"math"
	"time"
)

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level maps an RMS amplitude to a display level in [0, 1].
func Level(rms float64) float64 {
	return min(1, rms*10)
}

// SilenceDetector reports once when input stays below Threshold for Duration.
// It is owned by a single capture goroutine.
type SilenceDetector struct {
	Threshold float64
	Duration  time.Duration

	since time.Time
	fired bool
}

// Observe feeds one chunk's RMS measured at now. It returns true exactly once
// per Reset, on the chunk that completes the silent stretch.
func (d *SilenceDetector) Observe(rms float64, now time.Time) bool {
	if d.fired || d.Duration <= 0 {
		return false
	}
	if rms >= d.Threshold {
		d.since = time.Time{}
		return false
	}
	if d.since.IsZero() {
		d.since = now
		return false
	}
	if now.Sub(d.since) >= d.Duration {
		d.fired = true
		return true
	}
	return false
}
