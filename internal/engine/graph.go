package engine

// Segment is a contiguous frame range of the source file queued for
// playback. Frames are in the file's native sample rate; the playback rate
// never enters this arithmetic.
type Segment struct {
	StartFrame int64
	FrameCount int64
}

// Graph is the render path the engine exclusively owns: a player feeding a
// time-stretch stage feeding the output device. Schedulers hold the graph
// only as a non-owning reference and must not outlive the engine.
//
// Completion callbacks passed to ScheduleSegment fire on an unspecified
// background goroutine once the segment's data has been fully consumed;
// callers re-dispatch onto their own serialization before touching state.
type Graph interface {
	// Start begins or resumes rendering and zeroes the elapsed-frames
	// signal. Queued segments survive a Stop/Start cycle.
	Start() error
	// Stop pauses rendering without discarding queued segments.
	Stop()
	Running() bool

	// SetSource installs the decoded mono sample buffer segments index into.
	SetSource(samples []float64)

	// ScheduleSegment queues a segment for playback. Zero-length segments
	// are skipped silently; they only arise from already-validated input.
	ScheduleSegment(seg Segment, onComplete func())
	// QueuedSegments reports how many scheduled segments have not yet been
	// fully consumed, the partially-played head included.
	QueuedSegments() int
	// Reset discards queued segments and pending clicks without firing
	// their completions.
	Reset()

	// SetRate adjusts the time-stretch stage. It has no effect on frame
	// positions or the elapsed-frames signal's domain.
	SetRate(rate float64)
	// Pitch returns the stretch stage's transposition in semitones. The
	// engine holds it at its neutral value for every rate.
	Pitch() float64

	// ElapsedFrames is the input-domain (file) frame count consumed since
	// the last Start.
	ElapsedFrames() int64
	// OutputFrame is the live hardware clock in output frames, extrapolated
	// to now rather than the last completed render timestamp.
	OutputFrame() int64
	SampleRate() float64

	// ScheduleClick mixes buf into the output starting at an absolute
	// output frame. Buffers whose start already passed are dropped.
	ScheduleClick(buf []float64, atFrame int64)

	Close() error
}
