package engine

import (
	"sync"
	"time"
)

// fakeGraph is a controllable render graph for tests: elapsed time and the
// hardware clock advance only when the test says so, and completion
// callbacks fire on demand.
type fakeGraph struct {
	mu         sync.Mutex
	sampleRate float64
	running    bool
	rate       float64
	source     []float64

	segs   []scheduledSegment
	clicks []clickSchedule

	elapsed  int64
	outFrame int64
	resets   int
}

type clickSchedule struct {
	frames int
	at     int64
}

func newFakeGraph(sampleRate float64) *fakeGraph {
	return &fakeGraph{sampleRate: sampleRate, rate: 1.0}
}

func (g *fakeGraph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = true
	g.elapsed = 0
	return nil
}

func (g *fakeGraph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
}

func (g *fakeGraph) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *fakeGraph) SetSource(samples []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.source = samples
}

func (g *fakeGraph) ScheduleSegment(seg Segment, onComplete func()) {
	if seg.FrameCount <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.segs = append(g.segs, scheduledSegment{seg: seg, onComplete: onComplete})
}

func (g *fakeGraph) QueuedSegments() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.segs)
}

func (g *fakeGraph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.segs = nil
	g.clicks = nil
	g.resets++
}

func (g *fakeGraph) SetRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rate = rate
}

func (g *fakeGraph) Pitch() float64 { return 0 }

func (g *fakeGraph) ElapsedFrames() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsed
}

func (g *fakeGraph) OutputFrame() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outFrame
}

func (g *fakeGraph) SampleRate() float64 { return g.sampleRate }

func (g *fakeGraph) ScheduleClick(buf []float64, atFrame int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clicks = append(g.clicks, clickSchedule{frames: len(buf), at: atFrame})
}

func (g *fakeGraph) Close() error {
	g.Stop()
	return nil
}

// --- test controls ---

func (g *fakeGraph) setElapsed(frames int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.elapsed = frames
}

func (g *fakeGraph) setOutputFrame(f int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outFrame = f
}

func (g *fakeGraph) segments() []Segment {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Segment, len(g.segs))
	for i, s := range g.segs {
		out[i] = s.seg
	}
	return out
}

func (g *fakeGraph) clickSchedules() []clickSchedule {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]clickSchedule(nil), g.clicks...)
}

// completeFirst pops the head segment and fires its completion the way the
// real graph does: on a separate goroutine.
func (g *fakeGraph) completeFirst() {
	g.mu.Lock()
	if len(g.segs) == 0 {
		g.mu.Unlock()
		return
	}
	head := g.segs[0]
	g.segs = g.segs[1:]
	g.mu.Unlock()
	if head.onComplete != nil {
		go head.onComplete()
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
