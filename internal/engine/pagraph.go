package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/bhosie/chronoaudio/internal/config"
	applog "github.com/bhosie/chronoaudio/internal/log"
)

type scheduledSegment struct {
	seg        Segment
	onComplete func()
}

type clickEvent struct {
	buf []float64
	at  int64 // absolute output frame of buf[0]
	off int   // frames already mixed
}

// paGraph is the PortAudio-backed render graph. The hardware callback pulls
// queued segments through the time-stretch stage and mixes click buffers at
// absolute output frames. All mutable state sits behind one mutex; the
// callback holds it only for buffer-local work and fires completion
// callbacks on background goroutines.
type paGraph struct {
	mu     sync.Mutex
	stream *portaudio.Stream

	sampleRate float64
	source     []float64
	stretch    *olaStretcher

	segments []scheduledSegment
	segPos   float64 // input frames consumed within the active segment
	clicks   []*clickEvent

	spill    []float64 // stretched frames rendered but not yet delivered
	spillOff int
	spillN   int

	elapsedIn    float64 // input-domain frames consumed since last Start
	outputFrames int64   // output frames delivered since open
	lastCallback time.Time
	running      bool
}

var _ Graph = (*paGraph)(nil)

// NewGraph opens an output stream on the given device at the file's native
// sample rate. Call Close to release the stream.
func NewGraph(cfg config.AudioConfig, sampleRate float64) (*paGraph, error) {
	dev, err := outputDeviceInfo(cfg.OutputDevice)
	if err != nil {
		return nil, err
	}

	latency := dev.DefaultHighOutputLatency
	if cfg.LowLatency {
		latency = dev.DefaultLowOutputLatency
	}

	stretch := newOLAStretcher(2048)
	g := &paGraph{
		sampleRate: sampleRate,
		stretch:    stretch,
		spill:      make([]float64, stretch.SynthHop()),
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   dev,
			Latency:  latency,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      sampleRate,
	}
	stream, err := portaudio.OpenStream(params, g.render)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	g.stream = stream

	applog.Infof("graph: output stream open (%s, %.0f Hz, %d frames/buffer)",
		dev.Name, sampleRate, cfg.FramesPerBuffer)
	return g, nil
}

func (g *paGraph) Start() error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.elapsedIn = 0
	g.running = true
	g.lastCallback = time.Now()
	g.mu.Unlock()

	if err := g.stream.Start(); err != nil {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	return nil
}

func (g *paGraph) Stop() {
	g.mu.Lock()
	wasRunning := g.running
	g.running = false
	g.mu.Unlock()

	if wasRunning {
		if err := g.stream.Stop(); err != nil {
			applog.Errorf("graph: stream stop: %v", err)
		}
	}
}

func (g *paGraph) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *paGraph) SetSource(samples []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.source = samples
}

func (g *paGraph) ScheduleSegment(seg Segment, onComplete func()) {
	if seg.FrameCount <= 0 {
		applog.Debugf("graph: skipping zero-length segment at frame %d", seg.StartFrame)
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.segments = append(g.segments, scheduledSegment{seg: seg, onComplete: onComplete})
}

func (g *paGraph) QueuedSegments() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.segments)
}

func (g *paGraph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.segments = nil
	g.clicks = nil
	g.segPos = 0
	g.spillOff, g.spillN = 0, 0
	g.stretch.Reset()
}

func (g *paGraph) SetRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stretch.SetRate(rate)
}

func (g *paGraph) Pitch() float64 { return g.stretch.Pitch() }

func (g *paGraph) ElapsedFrames() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(g.elapsedIn)
}

func (g *paGraph) OutputFrame() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return g.outputFrames
	}
	// Extrapolate past the last completed callback so idle gaps between
	// callbacks do not make the clock lag wall time.
	ahead := time.Since(g.lastCallback).Seconds() * g.sampleRate
	return g.outputFrames + int64(ahead)
}

func (g *paGraph) SampleRate() float64 { return g.sampleRate }

func (g *paGraph) ScheduleClick(buf []float64, atFrame int64) {
	if len(buf) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if atFrame+int64(len(buf)) <= g.outputFrames {
		return // entirely in the past
	}
	g.clicks = append(g.clicks, &clickEvent{buf: buf, at: atFrame})
}

func (g *paGraph) Close() error {
	g.Stop()
	if err := g.stream.Close(); err != nil {
		return fmt.Errorf("failed to close output stream: %w", err)
	}
	return nil
}

// render is the hardware callback. It must not allocate beyond the
// occasional completion goroutine and must never block on the engine.
func (g *paGraph) render(out []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range out {
		out[i] = 0
	}

	filled := 0
	for filled < len(out) {
		if g.spillOff < g.spillN {
			take := g.spillN - g.spillOff
			if rem := len(out) - filled; take > rem {
				take = rem
			}
			for i := 0; i < take; i++ {
				out[filled+i] = float32(g.spill[g.spillOff+i])
			}
			filled += take
			g.spillOff += take
			continue
		}

		if len(g.segments) == 0 || g.source == nil {
			break
		}

		active := g.segments[0]
		if int64(math.Round(g.segPos)) >= active.seg.FrameCount {
			g.segments = g.segments[1:]
			g.segPos = 0
			if active.onComplete != nil {
				go active.onComplete()
			}
			continue
		}

		pos := active.seg.StartFrame + int64(math.Round(g.segPos))
		lo := active.seg.StartFrame
		hi := active.seg.StartFrame + active.seg.FrameCount
		g.stretch.Step(g.source, pos, lo, hi, g.spill)
		g.spillOff, g.spillN = 0, g.stretch.SynthHop()
		g.segPos += g.stretch.InputHop()
		g.elapsedIn += g.stretch.InputHop()
	}

	g.mixClicks(out)

	// Soft clip after the click mix.
	for i, v := range out {
		if v > 1 {
			out[i] = 1
		} else if v < -1 {
			out[i] = -1
		}
	}

	g.outputFrames += int64(len(out))
	g.lastCallback = time.Now()
}

func (g *paGraph) mixClicks(out []float32) {
	if len(g.clicks) == 0 {
		return
	}
	n := int64(len(out))
	kept := g.clicks[:0]
	for _, ev := range g.clicks {
		idx := ev.at + int64(ev.off) - g.outputFrames
		if idx < 0 {
			skip := int(-idx)
			if skip >= len(ev.buf)-ev.off {
				continue // missed entirely, drop silently
			}
			ev.off += skip
			idx = 0
		}
		for idx < n && ev.off < len(ev.buf) {
			out[idx] += float32(ev.buf[ev.off])
			idx++
			ev.off++
		}
		if ev.off < len(ev.buf) {
			kept = append(kept, ev)
		}
	}
	g.clicks = kept
}
