package engine

import (
	"math"
	"sync"
)

// Clock maintains the authoritative "current audio-file time". It combines
// the render graph's elapsed-frames-since-start signal with a stored offset
// snapshotted on every seek and pause. Monotonic within one play segment;
// it may jump backward exactly once per seek or loop edit, never
// spontaneously.
type Clock struct {
	mu         sync.Mutex
	sampleRate float64
	offset     float64 // file time current when the player node last started
	stored     float64 // last reported value, returned while not rendering
}

// NewClock builds a clock for a file at the given native sample rate.
func NewClock(sampleRate float64) *Clock {
	return &Clock{sampleRate: sampleRate}
}

// SetOffset records the file time that playback will resume from. The
// stored value follows so reads while stopped reflect the seek immediately.
func (c *Clock) SetOffset(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t
	c.stored = t
}

// Offset returns the file time the player node last started from.
func (c *Clock) Offset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Now returns the current file time. While rendering, that is the offset
// plus the graph's elapsed frames converted to seconds; when a loop region
// is active the sum is reduced modulo the loop duration and rebased onto
// the in point. When not rendering, the last stored value is returned
// unchanged with no extrapolation.
func (c *Clock) Now(elapsedFrames int64, rendering bool, region *LoopRegion) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !rendering {
		return c.stored
	}

	t := c.offset + float64(elapsedFrames)/c.sampleRate
	if region != nil {
		t = region.In + math.Mod(t, region.Duration())
	}
	c.stored = t
	return t
}
