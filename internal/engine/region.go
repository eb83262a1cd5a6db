// Package engine implements the playback core: a sample-accurate loop
// scheduler over a render graph (player → time-stretch → output), the
// authoritative playback clock, and the lookahead metronome scheduler.
package engine

import "github.com/bhosie/chronoaudio/internal/config"

// LoopRegion is a validated [In, Out) span in audio-file time, seconds.
// Loop boundaries are musical positions: they never depend on the playback
// rate. Construct only through NewLoopRegion.
type LoopRegion struct {
	In  float64
	Out float64
}

// NewLoopRegion clamps both points into [0, trackDuration] and returns nil
// when the clamped span is narrower than the loop floor. A nil region means
// "no region"; degenerate zero or negative-length loops cannot exist.
func NewLoopRegion(in, out, trackDuration float64) *LoopRegion {
	in = clamp(in, 0, trackDuration)
	out = clamp(out, 0, trackDuration)
	if out-in < config.MinLoopSeconds {
		return nil
	}
	return &LoopRegion{In: in, Out: out}
}

// Duration returns the loop length in seconds.
func (r *LoopRegion) Duration() float64 { return r.Out - r.In }

// Contains reports whether t lies within [In, Out).
func (r *LoopRegion) Contains(t float64) bool { return t >= r.In && t < r.Out }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
