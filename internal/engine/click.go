package engine

import (
	"math"
	"sync"
	"time"

	"github.com/bhosie/chronoaudio/internal/config"
	applog "github.com/bhosie/chronoaudio/internal/log"
)

// FramesPerBeat returns the inter-click spacing in output frames. The
// beatUnit/4 factor makes eighth-note beats tick twice as fast as
// quarter-note beats at the same BPM, and slowing playback stretches the
// click grid with it.
func FramesPerBeat(sampleRate, bpm, rate float64, beatUnit int) float64 {
	return sampleRate / (bpm / 60.0 * rate * float64(beatUnit) / 4.0)
}

// ClickScheduler keeps a fixed number of metronome clicks queued ahead of
// the render graph's hardware clock. It is time-driven rather than
// completion-driven: a periodic timer tops the queue back up. The anchor
// derives from the live extrapolated output clock, never the last
// completed render timestamp, which can lag wall time by seconds after the
// graph has been idle and would silently drop the first beats.
type ClickScheduler struct {
	graph Graph // non-owning
	tone  []float64

	lookahead int
	interval  time.Duration
	safety    time.Duration

	mu       sync.Mutex
	running  bool
	bpm      float64
	beatUnit int
	rate     float64
	nextBeat float64 // absolute output frame of the next unscheduled click
	stop     chan struct{}
}

// NewClickScheduler builds a scheduler with the configured lookahead and
// click tone.
func NewClickScheduler(graph Graph, cfg config.ClickConfig) *ClickScheduler {
	return &ClickScheduler{
		graph:     graph,
		tone:      clickTone(cfg.Frequency, graph.SampleRate(), config.DefaultClickDuration),
		lookahead: cfg.LookaheadBeats,
		interval:  cfg.Interval,
		safety:    cfg.Safety,
		beatUnit:  cfg.BeatUnit,
		rate:      config.DefaultRate,
	}
}

// Start begins clicking at bpm with the configured beat unit. No-op if
// already running or bpm is not positive.
func (c *ClickScheduler) Start(bpm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || bpm <= 0 {
		return
	}
	c.bpm = bpm
	c.running = true
	c.stop = make(chan struct{})
	c.nextBeat = float64(c.graph.OutputFrame()) + c.safetyFrames()

	applog.Infof("click: starting at %.1f BPM (unit %d)", bpm, c.beatUnit)
	c.scheduleLocked()

	go c.loop(c.stop)
}

// Stop halts click scheduling. Clicks already queued on the graph play out.
func (c *ClickScheduler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
}

// Running reports whether the metronome is active.
func (c *ClickScheduler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetRate updates the playback rate the click grid stretches against.
func (c *ClickScheduler) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
}

// SetBPM changes the click tempo without restarting the scheduler.
func (c *ClickScheduler) SetBPM(bpm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bpm > 0 {
		c.bpm = bpm
	}
}

func (c *ClickScheduler) loop(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.running {
				c.scheduleLocked()
			}
			c.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// scheduleLocked tops the click queue up to the lookahead horizon.
func (c *ClickScheduler) scheduleLocked() {
	fpb := FramesPerBeat(c.graph.SampleRate(), c.bpm, c.rate, c.beatUnit)
	if fpb <= 0 || math.IsInf(fpb, 0) {
		return
	}

	now := float64(c.graph.OutputFrame())
	if c.nextBeat < now+c.safetyFrames() {
		// Fell behind (long tick gap, rate change); re-anchor to the live
		// clock rather than scheduling beats already in the past.
		c.nextBeat = now + c.safetyFrames()
	}

	horizon := now + float64(c.lookahead)*fpb
	for c.nextBeat < horizon {
		c.graph.ScheduleClick(c.tone, int64(math.Round(c.nextBeat)))
		c.nextBeat += fpb
	}
}

func (c *ClickScheduler) safetyFrames() float64 {
	return c.safety.Seconds() * c.graph.SampleRate()
}

// clickTone synthesizes the metronome sound: a short sine burst under an
// exponential decay envelope.
func clickTone(freq, sampleRate float64, dur time.Duration) []float64 {
	n := int(dur.Seconds() * sampleRate)
	buf := make([]float64, n)
	for i := range buf {
		env := math.Exp(-float64(i) / (0.005 * sampleRate))
		buf[i] = 0.7 * env * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return buf
}
