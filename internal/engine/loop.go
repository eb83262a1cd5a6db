package engine

import (
	"math"
	"sync/atomic"

	applog "github.com/bhosie/chronoaudio/internal/log"
)

// LoopScheduler keeps the render graph continuously fed while a loop is
// active. All state mutation and graph scheduling happen on one goroutine
// fed by a command channel, so a completion notification racing a
// user-initiated Disable can never schedule a stale segment. The scheduler
// holds the graph as a non-owning reference.
type LoopScheduler struct {
	graph      Graph
	sampleRate float64

	cmds chan func()
	done chan struct{}

	// Owned by the run goroutine.
	region  *LoopRegion
	looping bool

	// Mirror of looping for lock-free external reads.
	active atomic.Bool
}

// NewLoopScheduler starts the scheduling goroutine. sampleRate is the
// file-native rate; segment frame math never sees the playback rate.
func NewLoopScheduler(graph Graph, sampleRate float64) *LoopScheduler {
	ls := &LoopScheduler{
		graph:      graph,
		sampleRate: sampleRate,
		cmds:       make(chan func(), 16),
		done:       make(chan struct{}),
	}
	go ls.run()
	return ls
}

func (ls *LoopScheduler) run() {
	for {
		select {
		case f := <-ls.cmds:
			f()
		case <-ls.done:
			return
		}
	}
}

func (ls *LoopScheduler) post(f func()) {
	select {
	case ls.cmds <- f:
	case <-ls.done:
	}
}

// Enable stores the region and arms looping. It schedules nothing itself:
// the caller stops the node and invokes ScheduleFirstSegment before
// resuming, so the first segment queues onto a quiescent node.
func (ls *LoopScheduler) Enable(region *LoopRegion) {
	if region == nil {
		return
	}
	ls.active.Store(true)
	ls.post(func() {
		ls.region = region
		ls.looping = true
	})
}

// Disable stops future re-arming. In-flight scheduled audio finishes
// playing; no further segment is queued. Safe to call repeatedly.
func (ls *LoopScheduler) Disable() {
	ls.active.Store(false)
	ls.post(func() {
		ls.looping = false
		ls.region = nil
	})
}

// Looping reports whether the loop is armed.
func (ls *LoopScheduler) Looping() bool { return ls.active.Load() }

// ScheduleFirstSegment queues one full loop pass and returns once the
// segment is on the graph, so the caller can start the node knowing it has
// data.
func (ls *LoopScheduler) ScheduleFirstSegment() {
	armed := make(chan struct{})
	ls.post(func() {
		ls.arm()
		close(armed)
	})
	select {
	case <-armed:
	case <-ls.done:
	}
}

// arm queues one loop pass with a completion notification. Runs only on
// the scheduler goroutine. Frame positions use the file-native sample rate:
// loop boundaries are musical positions, not wall-clock positions.
func (ls *LoopScheduler) arm() {
	if !ls.looping || ls.region == nil {
		return
	}

	start := int64(math.Round(ls.region.In * ls.sampleRate))
	count := int64(math.Round(ls.region.Duration() * ls.sampleRate))
	if count <= 0 {
		applog.Debugf("loop: zero-length segment, skipping")
		return
	}

	ls.graph.ScheduleSegment(Segment{StartFrame: start, FrameCount: count}, ls.completed)
}

// completed re-enters the scheduler goroutine and re-arms, producing an
// apparently infinite gapless loop from discrete buffer schedules. If
// looping was disabled in the meantime, arm exits silently.
func (ls *LoopScheduler) completed() {
	ls.post(ls.arm)
}

// Close stops the scheduling goroutine. Pending commands are abandoned.
func (ls *LoopScheduler) Close() {
	ls.active.Store(false)
	close(ls.done)
}
