package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bhosie/chronoaudio/internal/config"
	"github.com/bhosie/chronoaudio/internal/track"
)

func newTestEngine(t *testing.T) (*Engine, *fakeGraph) {
	t.Helper()
	fake := newFakeGraph(testSampleRate)
	e, err := NewEngine(config.NewConfig(), fake, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, fake
}

func testTrack(seconds float64) *track.Track {
	fr := int64(math.Round(seconds * testSampleRate))
	tr := &track.Track{
		Path:       "test.wav",
		Format:     track.FormatWAV,
		Duration:   seconds,
		SampleRate: int(testSampleRate),
		Channels:   1,
		Frames:     fr,
	}
	return tr.WithSamples(make([]float64, fr))
}

func TestEngineRequiresDecodedTrack(t *testing.T) {
	e, fake := newTestEngine(t)

	if err := e.Load(nil); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("Load(nil) = %v, want ErrNoTrack", err)
	}
	meta := &track.Track{Path: "x.wav", Duration: 5, SampleRate: 44100, Frames: 220500}
	if err := e.Load(meta); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("Load(metadata-only) = %v, want ErrNoTrack", err)
	}

	e.Play() // no track: must stay idle
	if e.Status() != StatusIdle || fake.Running() {
		t.Fatal("Play without a track started the graph")
	}
}

func TestEnginePlayPauseResume(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.Play()
	if e.Status() != StatusPlaying || !fake.Running() {
		t.Fatal("not playing after Play")
	}
	segs := fake.segments()
	if len(segs) != 1 || segs[0].StartFrame != 0 || segs[0].FrameCount != frames(10) {
		t.Fatalf("whole-file segment = %+v", segs)
	}

	fake.setElapsed(frames(3.0))
	e.Pause()
	if e.Status() != StatusPaused || fake.Running() {
		t.Fatal("not paused after Pause")
	}
	if got := e.CurrentTime(); math.Abs(got-3.0) > 1e-6 {
		t.Fatalf("paused position = %v, want 3.0", got)
	}
	// The queue survives a pause; resume must not schedule a second segment.
	if got := len(fake.segments()); got != 1 {
		t.Fatalf("%d segments after pause, want 1", got)
	}

	e.Play()
	if e.Status() != StatusPlaying {
		t.Fatal("not playing after resume")
	}
	if got := len(fake.segments()); got != 1 {
		t.Fatalf("resume scheduled extra segments: %d", got)
	}
}

func TestEngineSeekClampsAndIsSynchronous(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// The visible time must update before the graph restarts.
	e.Seek(6.0)
	if got := e.CurrentTime(); math.Abs(got-6.0) > 1e-9 {
		t.Fatalf("position after seek = %v, want 6.0", got)
	}
	segs := fake.segments()
	if len(segs) != 1 || segs[0].StartFrame != frames(6.0) || segs[0].FrameCount != frames(4.0) {
		t.Fatalf("remainder segment = %+v", segs)
	}

	e.Seek(50.0)
	if got := e.CurrentTime(); got != 10.0 {
		t.Fatalf("seek past end = %v, want 10.0", got)
	}
	e.Seek(-3.0)
	if got := e.CurrentTime(); got != 0.0 {
		t.Fatalf("seek before start = %v, want 0", got)
	}

	// Seeking while paused must not start the node.
	if fake.Running() {
		t.Fatal("seek started a paused graph")
	}
}

func TestEngineSetRateClamp(t *testing.T) {
	e, fake := newTestEngine(t)

	for _, tc := range []struct{ in, want float64 }{
		{0.1, 0.25},
		{2.0, 1.0},
		{0.5, 0.5},
		{-1.0, 0.25},
	} {
		e.SetRate(tc.in)
		if got := e.Rate(); got != tc.want {
			t.Errorf("SetRate(%v): Rate = %v, want %v", tc.in, got, tc.want)
		}
		if got := fake.rate; got != tc.want {
			t.Errorf("SetRate(%v): graph rate = %v, want %v", tc.in, got, tc.want)
		}
		if fake.Pitch() != 0 {
			t.Errorf("SetRate(%v): pitch moved off neutral", tc.in)
		}
	}
}

func TestEngineFrameMathIgnoresRate(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, rate := range []float64{0.25, 0.5, 1.0} {
		e.SetRate(rate)
		e.Seek(1.0)
		segs := fake.segments()
		if len(segs) != 1 || segs[0].StartFrame != 44100 {
			t.Errorf("rate %v: segment = %+v, want start 44100", rate, segs)
		}
	}
}

func TestEngineLoopPlayback(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	region := NewLoopRegion(1.0, 4.0, 10.0)
	e.EnableLoop(region)
	if !e.Looping() {
		t.Fatal("not looping after EnableLoop")
	}
	if got := e.CurrentTime(); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("position after arm = %v, want in point 1.0", got)
	}
	// Arming while idle must not start playback.
	if e.Status() != StatusIdle || fake.Running() {
		t.Fatal("EnableLoop started playback")
	}

	e.Play()
	if e.Status() != StatusPlaying {
		t.Fatal("not playing")
	}

	// Advance simulated render time well past several loop passes: the
	// reported position must never leave [1, 4).
	for el := int64(0); el <= frames(20.0); el += 1234 {
		fake.setElapsed(el)
		got := e.CurrentTime()
		if got < 1.0 || got >= 4.0 {
			t.Fatalf("position %v escaped [1, 4) at elapsed %d", got, el)
		}
	}
}

func TestEngineLoopEditPreservesPlayState(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.Play()
	e.EnableLoop(NewLoopRegion(1.0, 4.0, 10.0))
	if e.Status() != StatusPlaying || !fake.Running() {
		t.Fatal("loop arm interrupted playback")
	}

	e.UpdateLoopRegion(NewLoopRegion(2.0, 6.0, 10.0))
	if e.Status() != StatusPlaying {
		t.Fatal("loop edit interrupted playback")
	}
	r := e.Region()
	if r == nil || r.In != 2.0 || r.Out != 6.0 {
		t.Fatalf("region = %+v, want [2, 6)", r)
	}

	e.Pause()
	e.UpdateLoopRegion(NewLoopRegion(0.5, 3.0, 10.0))
	if e.Status() != StatusPaused || fake.Running() {
		t.Fatal("loop edit while paused resumed playback")
	}
}

func TestEngineDisableLoopIdempotent(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.EnableLoop(NewLoopRegion(2.0, 5.0, 10.0))
	e.DisableLoop()
	if e.Looping() {
		t.Fatal("looping after DisableLoop")
	}
	e.DisableLoop() // second call is a no-op
	if e.Looping() {
		t.Fatal("looping after repeated DisableLoop")
	}

	// Disabling schedules the remainder from the current position.
	segs := fake.segments()
	if len(segs) == 0 {
		t.Fatal("no remainder scheduled after DisableLoop")
	}
	last := segs[len(segs)-1]
	if last.StartFrame != frames(2.0) || last.FrameCount != frames(8.0) {
		t.Fatalf("remainder = %+v, want start %d count %d", last, frames(2.0), frames(8.0))
	}
}

func TestEngineRejectedRegionLeavesLoopUntouched(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.EnableLoop(NewLoopRegion(5.0, 5.2, 10.0)) // too narrow: nil region
	if e.Looping() {
		t.Fatal("narrow region armed a loop")
	}

	e.EnableLoop(NewLoopRegion(1.0, 4.0, 10.0))
	e.UpdateLoopRegion(NewLoopRegion(3.0, 3.1, 10.0)) // rejected edit
	r := e.Region()
	if r == nil || r.In != 1.0 {
		t.Fatalf("rejected edit replaced region: %+v", r)
	}
}

func TestEngineEndOfFileReturnsToIdle(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.Play()
	fake.setElapsed(frames(10.0))
	fake.completeFirst()

	if !waitFor(func() bool { return e.Status() == StatusIdle }, time.Second) {
		t.Fatalf("status = %v after end of file, want idle", e.Status())
	}
	if got := e.CurrentTime(); got != 10.0 {
		t.Fatalf("position after end of file = %v, want 10.0", got)
	}
}

func TestEnginePlayAfterEndOfFileRewinds(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.Play()
	fake.setElapsed(frames(10.0))
	fake.completeFirst()
	if !waitFor(func() bool { return e.Status() == StatusIdle }, time.Second) {
		t.Fatal("never returned to idle")
	}

	// Playing again from the end starts over instead of rendering silence
	// past the track.
	e.Play()
	if e.Status() != StatusPlaying {
		t.Fatal("not playing after restart")
	}
	segs := fake.segments()
	if len(segs) != 1 || segs[0].StartFrame != 0 || segs[0].FrameCount != frames(10.0) {
		t.Fatalf("restart segment = %+v, want whole file from 0", segs)
	}
	if got := e.CurrentTime(); got != 0 {
		t.Fatalf("position after restart = %v, want 0", got)
	}
}

func TestEngineLoopResumeKeepsSingleQueuedPass(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.EnableLoop(NewLoopRegion(1.0, 4.0, 10.0))
	e.Play()
	if got := fake.QueuedSegments(); got != 1 {
		t.Fatalf("queue depth after play = %d, want 1", got)
	}

	// The partially-consumed pass survives a pause; resume must not stack
	// another one on top of it.
	for i := 0; i < 3; i++ {
		e.Pause()
		e.Play()
	}
	if got := fake.QueuedSegments(); got != 1 {
		t.Fatalf("queue depth after pause/resume cycles = %d, want 1", got)
	}

	// After a full stop the queue is empty, so play re-arms exactly once.
	e.Stop()
	e.Play()
	if got := fake.QueuedSegments(); got != 1 {
		t.Fatalf("queue depth after stop/play = %d, want 1", got)
	}
}

func TestEngineDetectTempoSingleFlight(t *testing.T) {
	e, _ := newTestEngine(t)

	if _, err := e.DetectTempo(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("DetectTempo without track = %v, want ErrNoTrack", err)
	}

	if err := e.Load(testTrack(3)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// A request while one is in flight is rejected, not queued.
	e.detecting.Store(true)
	if _, err := e.DetectTempo(); !errors.Is(err, ErrDetectionBusy) {
		t.Fatalf("concurrent DetectTempo = %v, want ErrDetectionBusy", err)
	}
	e.detecting.Store(false)

	ch, err := e.DetectTempo()
	if err != nil {
		t.Fatalf("DetectTempo: %v", err)
	}
	select {
	case res := <-ch:
		// Silence carries no onsets; inconclusive is the expected outcome.
		if res.OK {
			t.Fatalf("silence detected as %v BPM", res.BPM)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("detection never completed")
	}
}

func TestEngineObserverSnapshots(t *testing.T) {
	e, _ := newTestEngine(t)

	states := make(chan State, 16)
	e.SetObserver(func(s State) {
		select {
		case states <- s:
		default:
		}
	})

	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	e.Play()

	var got State
	if !waitFor(func() bool {
		for {
			select {
			case s := <-states:
				if s.Status == "playing" {
					got = s
					return true
				}
			default:
				return false
			}
		}
	}, time.Second) {
		t.Fatal("no playing snapshot observed")
	}
	if got.Duration != 10.0 || got.Rate != 1.0 {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestEngineStopRewinds(t *testing.T) {
	e, fake := newTestEngine(t)
	if err := e.Load(testTrack(10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e.Play()
	fake.setElapsed(frames(4.0))
	e.Stop()

	if e.Status() != StatusIdle || fake.Running() {
		t.Fatal("not idle after Stop")
	}
	if got := e.CurrentTime(); got != 0 {
		t.Fatalf("position after Stop = %v, want 0", got)
	}
	if got := len(fake.segments()); got != 0 {
		t.Fatalf("%d segments survived Stop", got)
	}
}
