package engine

import "math"

// olaStretcher is the time-stretch stage: windowed overlap-add with a fixed
// synthesis hop and a rate-scaled analysis hop. Output duration scales by
// 1/rate while pitch stays neutral; a transposing processor would slot in
// behind the same surface. Designed for incremental use from the render
// callback: Step neither allocates nor blocks.
type olaStretcher struct {
	size int // window length, frames
	hop  int // synthesis hop, size/4

	win  []float64 // Hann coefficients scaled for constant overlap-add
	acc  []float64 // overlap-add accumulator; acc[:hop] is emitted per step
	tmp  []float64
	rate float64
}

func newOLAStretcher(size int) *olaStretcher {
	hop := size / 4
	win := make([]float64, size)
	// Hann at 75% overlap sums to 2; fold the correction into the window.
	for i := range win {
		win[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1))) / 2.0
	}
	return &olaStretcher{
		size: size,
		hop:  hop,
		win:  win,
		acc:  make([]float64, size),
		tmp:  make([]float64, size),
		rate: 1.0,
	}
}

func (s *olaStretcher) SetRate(rate float64) { s.rate = rate }
func (s *olaStretcher) Rate() float64        { return s.rate }

// Pitch is the stage's transposition in semitones. Overlap-add never
// transposes, so this is constant.
func (s *olaStretcher) Pitch() float64 { return 0 }

// SynthHop returns the output frames produced per Step.
func (s *olaStretcher) SynthHop() int { return s.hop }

// InputHop returns the input frames consumed per Step at the current rate.
func (s *olaStretcher) InputHop() float64 { return float64(s.hop) * s.rate }

// Reset clears the overlap-add accumulator.
func (s *olaStretcher) Reset() {
	for i := range s.acc {
		s.acc[i] = 0
	}
}

// Step overlap-adds one analysis window of src taken at frame pos, bounded
// to [lo, hi), and writes the hop output frames that became ready into out.
// out must be at least SynthHop long. Frames outside the bounds read as
// silence, which hard-cuts a loop boundary while the window overlap smooths
// the transition.
func (s *olaStretcher) Step(src []float64, pos, lo, hi int64, out []float64) {
	if hi > int64(len(src)) {
		hi = int64(len(src))
	}
	for i := range s.size {
		p := pos + int64(i)
		if p >= lo && p < hi {
			s.tmp[i] = src[p] * s.win[i]
		} else {
			s.tmp[i] = 0
		}
	}

	for i := range s.size {
		s.acc[i] += s.tmp[i]
	}

	copy(out[:s.hop], s.acc[:s.hop])
	copy(s.acc, s.acc[s.hop:])
	for i := s.size - s.hop; i < s.size; i++ {
		s.acc[i] = 0
	}
}
