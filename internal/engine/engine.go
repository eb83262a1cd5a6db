package engine

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhosie/chronoaudio/internal/analysis"
	"github.com/bhosie/chronoaudio/internal/config"
	applog "github.com/bhosie/chronoaudio/internal/log"
	"github.com/bhosie/chronoaudio/internal/track"
	"github.com/bhosie/chronoaudio/internal/transport"
)

// Status is the transport state of the engine.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusPlaying
	StatusPaused
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a snapshot of the engine published to UI observers.
type State struct {
	Status   string  `json:"status"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Rate     float64 `json:"rate"`
	Looping  bool    `json:"looping"`
	LoopIn   float64 `json:"loop_in,omitempty"`
	LoopOut  float64 `json:"loop_out,omitempty"`
	BPM      float64 `json:"bpm,omitempty"`
	Clicking bool    `json:"clicking"`
}

// TempoResult is the outcome of an asynchronous tempo detection. OK is
// false when detection was inconclusive, an expected outcome on ambient or
// atonal material.
type TempoResult struct {
	BPM float64
	OK  bool
}

var (
	// ErrNoTrack is returned when an operation needs a decoded track.
	ErrNoTrack = errors.New("no decoded track loaded")
	// ErrDetectionBusy rejects a tempo request while one is in flight.
	// Requests are rejected, not queued.
	ErrDetectionBusy = errors.New("tempo detection already in flight")
)

// Observer receives state snapshots on the engine's publishing path. It
// must not call back into the engine synchronously.
type Observer func(State)

// Engine orchestrates the render graph, the loop and click schedulers and
// the playback clock, and exposes the public transport API. All engine
// state is serialized behind one mutex; completion notifications from the
// graph re-enter through methods that take it, never directly.
type Engine struct {
	mu sync.Mutex

	cfg       *config.Config
	graph     Graph
	looper    *LoopScheduler
	click     *ClickScheduler
	clock     *Clock
	estimator *analysis.Estimator

	trans    transport.Transport // optional state broadcast
	observer Observer

	trk    *track.Track
	status Status
	rate   float64
	region *LoopRegion
	bpm    float64

	pollStop  chan struct{}
	detecting atomic.Bool
}

// NewEngine wires an engine around an open render graph. The graph must
// already be opened at the track's native sample rate; the engine takes
// ownership and closes it.
func NewEngine(cfg *config.Config, graph Graph, trans transport.Transport) (*Engine, error) {
	estimator, err := analysis.NewEstimator(cfg.Analysis)
	if err != nil {
		return nil, err
	}

	rate := clampRate(cfg.Playback.Rate)
	graph.SetRate(rate)

	e := &Engine{
		cfg:       cfg,
		graph:     graph,
		looper:    NewLoopScheduler(graph, graph.SampleRate()),
		click:     NewClickScheduler(graph, cfg.Click),
		clock:     NewClock(graph.SampleRate()),
		estimator: estimator,
		trans:     trans,
		rate:      rate,
		status:    StatusIdle,
	}
	e.click.SetRate(rate)
	return e, nil
}

// SetObserver installs the UI observer called with every state snapshot.
func (e *Engine) SetObserver(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = obs
}

// Load installs a fully decoded track. The previous playback state is
// discarded; the engine returns to idle at position zero.
func (e *Engine) Load(t *track.Track) error {
	if t == nil || !t.Decoded() {
		return ErrNoTrack
	}

	e.mu.Lock()
	e.graph.Stop()
	e.graph.Reset()
	e.stopPollLocked()
	e.looper.Disable()
	e.trk = t
	e.region = nil
	e.graph.SetSource(t.Samples())
	e.clock.SetOffset(0)
	e.status = StatusIdle
	s := e.stateLocked()
	e.mu.Unlock()

	applog.Infof("engine: loaded %s (%.2fs)", t.Path, t.Duration)
	e.notify(s)
	return nil
}

// Play starts or resumes playback. No-op while already playing or without
// a decoded track.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.status == StatusPlaying || e.trk == nil || !e.trk.Decoded() {
		e.mu.Unlock()
		return
	}

	pos := e.currentTimeLocked()
	if e.looper.Looping() {
		// Loop passes survive a pause like any queued segment; re-arm the
		// first pass only when the queue is actually empty.
		if e.graph.QueuedSegments() == 0 {
			e.looper.ScheduleFirstSegment()
		}
	} else if pos >= e.trk.Duration {
		// Playing at the end rewinds and starts over.
		e.graph.Reset()
		e.clock.SetOffset(0)
		e.graph.ScheduleSegment(
			Segment{StartFrame: 0, FrameCount: e.trk.Frames},
			e.handleEndOfFile,
		)
	} else if pos == 0 {
		// From the very start: one segment spanning the whole file, with
		// end-of-file returning the engine to idle. A resume after pause
		// reuses the segment still queued on the graph.
		e.graph.ScheduleSegment(
			Segment{StartFrame: 0, FrameCount: e.trk.Frames},
			e.handleEndOfFile,
		)
	}

	if err := e.graph.Start(); err != nil {
		applog.Errorf("engine: start: %v", err)
		e.status = StatusError
		s := e.stateLocked()
		e.mu.Unlock()
		e.notify(s)
		return
	}
	e.status = StatusPlaying
	e.startPollLocked()
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

// Pause stops rendering and snapshots the position so it survives the
// pause. Safe in any state.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.status != StatusPlaying {
		e.mu.Unlock()
		return
	}
	t := e.currentTimeLocked()
	e.graph.Stop()
	e.stopPollLocked()
	e.clock.SetOffset(t)
	e.status = StatusPaused
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

// Stop halts playback and rewinds to the start. Safe in any state.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.graph.Stop()
	e.graph.Reset()
	e.stopPollLocked()
	e.click.Stop()
	e.clock.SetOffset(0)
	if e.status == StatusPlaying || e.status == StatusPaused {
		e.status = StatusIdle
	}
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

// Seek moves to t seconds, clamped into [0, duration]. The visible time
// updates synchronously even though the graph restart is asynchronous.
// Idempotent; restarts the node only if it was already playing.
func (e *Engine) Seek(t float64) {
	e.mu.Lock()
	if e.trk == nil {
		e.mu.Unlock()
		return
	}
	t = clamp(t, 0, e.trk.Duration)
	wasPlaying := e.status == StatusPlaying

	e.graph.Stop()
	e.graph.Reset()
	e.clock.SetOffset(t)

	if e.looper.Looping() {
		e.looper.ScheduleFirstSegment()
	} else {
		e.scheduleRemainderLocked(t)
	}

	if wasPlaying {
		if err := e.graph.Start(); err != nil {
			applog.Errorf("engine: restart after seek: %v", err)
		}
	}
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

// SetRate clamps into [0.25, 1.0] and applies it to the time-stretch stage
// only. Rate never reaches frame-position arithmetic, and pitch stays at
// its neutral value.
func (e *Engine) SetRate(rate float64) {
	e.mu.Lock()
	e.rate = clampRate(rate)
	e.graph.SetRate(e.rate)
	e.click.SetRate(e.rate)
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

// Rate returns the current playback rate.
func (e *Engine) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// EnableLoop arms looping over a validated region. Playback position moves
// to the in point; play/pause status is preserved.
func (e *Engine) EnableLoop(region *LoopRegion) {
	if region == nil {
		return
	}
	e.setLoop(region)
}

// UpdateLoopRegion replaces the active region, re-arming the first segment
// from the new in point. Play/pause status is preserved.
func (e *Engine) UpdateLoopRegion(region *LoopRegion) {
	if region == nil {
		return
	}
	e.setLoop(region)
}

func (e *Engine) setLoop(region *LoopRegion) {
	e.mu.Lock()
	if e.trk == nil {
		e.mu.Unlock()
		return
	}
	wasPlaying := e.status == StatusPlaying

	e.graph.Stop()
	e.graph.Reset()
	e.region = region
	e.looper.Enable(region)
	e.looper.ScheduleFirstSegment()
	e.clock.SetOffset(region.In)

	if wasPlaying {
		if err := e.graph.Start(); err != nil {
			applog.Errorf("engine: restart after loop edit: %v", err)
		}
	}
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

// DisableLoop disarms looping and continues from the current position to
// the end of the file. Idempotent; play/pause status is preserved.
func (e *Engine) DisableLoop() {
	e.mu.Lock()
	if e.trk == nil {
		e.mu.Unlock()
		return
	}
	wasPlaying := e.status == StatusPlaying
	t := e.currentTimeLocked()

	e.graph.Stop()
	e.graph.Reset()
	e.looper.Disable()
	e.region = nil
	e.clock.SetOffset(t)
	e.scheduleRemainderLocked(t)

	if wasPlaying {
		if err := e.graph.Start(); err != nil {
			applog.Errorf("engine: restart after loop disable: %v", err)
		}
	}
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

// Looping reports whether a loop region is armed.
func (e *Engine) Looping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.region != nil
}

// Region returns the active loop region, or nil.
func (e *Engine) Region() *LoopRegion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.region
}

// CurrentTime returns the authoritative current audio-file time.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

// Track returns the loaded track, or nil.
func (e *Engine) Track() *track.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trk
}

// Status returns the transport status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// DetectTempo estimates the loaded track's BPM asynchronously. At most one
// detection runs per engine; a request made while one is in flight returns
// ErrDetectionBusy rather than queuing.
func (e *Engine) DetectTempo() (<-chan TempoResult, error) {
	e.mu.Lock()
	trk := e.trk
	e.mu.Unlock()
	if trk == nil || !trk.Decoded() {
		return nil, ErrNoTrack
	}
	if !e.detecting.CompareAndSwap(false, true) {
		return nil, ErrDetectionBusy
	}

	ch := make(chan TempoResult, 1)
	go func() {
		bpm, ok := e.estimator.Detect(trk.Samples(), float64(trk.SampleRate))
		e.mu.Lock()
		if ok {
			e.bpm = bpm
		}
		s := e.stateLocked()
		e.mu.Unlock()
		e.detecting.Store(false)

		if ok {
			applog.Infof("engine: detected %.1f BPM", bpm)
		} else {
			applog.Infof("engine: no tempo found")
		}
		ch <- TempoResult{BPM: bpm, OK: ok}
		e.notify(s)
	}()
	return ch, nil
}

// BPM returns the last detected or configured tempo, 0 when unknown.
func (e *Engine) BPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bpm
}

// StartClick starts the metronome at bpm, falling back to the detected
// tempo when bpm is zero.
func (e *Engine) StartClick(bpm float64) {
	e.mu.Lock()
	if bpm <= 0 {
		bpm = e.bpm
	}
	e.mu.Unlock()
	e.click.Start(bpm)
}

// StopClick stops the metronome; queued clicks play out.
func (e *Engine) StopClick() { e.click.Stop() }

// Close releases the schedulers and the render graph.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.stopPollLocked()
	e.mu.Unlock()
	e.click.Stop()
	e.looper.Close()
	return e.graph.Close()
}

// handleEndOfFile fires on a background goroutine when the non-looping
// whole-file segment has been consumed; it re-enters engine serialization
// here before touching state.
func (e *Engine) handleEndOfFile() {
	e.mu.Lock()
	if e.status != StatusPlaying || e.region != nil {
		e.mu.Unlock()
		return
	}
	e.graph.Stop()
	e.stopPollLocked()
	e.clock.SetOffset(e.trk.Duration)
	e.status = StatusIdle
	s := e.stateLocked()
	e.mu.Unlock()
	e.notify(s)
}

func (e *Engine) scheduleRemainderLocked(t float64) {
	start := int64(math.Round(t * e.graph.SampleRate()))
	count := e.trk.Frames - start
	if count <= 0 {
		return
	}
	e.graph.ScheduleSegment(Segment{StartFrame: start, FrameCount: count}, e.handleEndOfFile)
}

func (e *Engine) currentTimeLocked() float64 {
	rendering := e.status == StatusPlaying && e.graph.Running()
	var region *LoopRegion
	if e.looper.Looping() {
		region = e.region
	}
	return e.clock.Now(e.graph.ElapsedFrames(), rendering, region)
}

func (e *Engine) stateLocked() State {
	s := State{
		Status:   e.status.String(),
		Position: e.clock.Now(e.graph.ElapsedFrames(), false, nil),
		Rate:     e.rate,
		BPM:      e.bpm,
		Clicking: e.click.Running(),
	}
	if e.trk != nil {
		s.Duration = e.trk.Duration
	}
	if e.region != nil {
		s.Looping = true
		s.LoopIn = e.region.In
		s.LoopOut = e.region.Out
	}
	return s
}

func (e *Engine) notify(s State) {
	e.mu.Lock()
	obs := e.observer
	trans := e.trans
	e.mu.Unlock()

	if obs != nil {
		obs(s)
	}
	if trans != nil {
		if err := trans.Send(s); err != nil {
			applog.Debugf("engine: state broadcast: %v", err)
		}
	}
}

func (e *Engine) startPollLocked() {
	if e.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	e.pollStop = stop
	interval := e.cfg.Playback.PollInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.mu.Lock()
				pos := e.currentTimeLocked()
				s := e.stateLocked()
				s.Position = pos
				e.mu.Unlock()
				e.notify(s)
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) stopPollLocked() {
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
}

func clampRate(rate float64) float64 {
	if rate < config.MinRate {
		return config.MinRate
	}
	if rate > config.MaxRate {
		return config.MaxRate
	}
	return rate
}
