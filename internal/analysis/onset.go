// Package analysis implements the tempo-detection pipeline: a spectral-flux
// onset detector over FFT frames, and an estimator that turns the flux curve
// into a single BPM value via inter-onset-interval histogram voting.
package analysis

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/bhosie/chronoaudio/pkg/bitint"
)

// OnsetDetector turns a mono sample buffer into a per-frame spectral-flux
// curve. The only state is the cached FFT plan and pre-allocated workspace,
// so a detector may be reused across calls (but not concurrently).
type OnsetDetector struct {
	windowSize int
	hopSize    int

	fft    *fourier.FFT
	coeffs []float64 // Hann window coefficients

	frame  []float64
	output []complex128
	mag    []float64
	prev   []float64
}

// NewOnsetDetector builds a detector with the given analysis window and hop
// sizes. The window size must be a power of two for the transform.
func NewOnsetDetector(windowSize, hopSize int) (*OnsetDetector, error) {
	if !bitint.IsPowerOfTwo(windowSize) {
		return nil, fmt.Errorf("window size must be a power of 2, got %d", windowSize)
	}
	if hopSize <= 0 || hopSize > windowSize {
		return nil, fmt.Errorf("hop size must be in (0, %d], got %d", windowSize, hopSize)
	}

	coeffs := make([]float64, windowSize)
	for i := range coeffs {
		coeffs[i] = 1
	}
	window.Hann(coeffs)

	// FFT output for real input is N/2 + 1 complex bins.
	bins := windowSize/2 + 1

	return &OnsetDetector{
		windowSize: windowSize,
		hopSize:    hopSize,
		fft:        fourier.NewFFT(windowSize),
		coeffs:     coeffs,
		frame:      make([]float64, windowSize),
		output:     make([]complex128, bins),
		mag:        make([]float64, bins),
		prev:       make([]float64, bins),
	}, nil
}

// WindowSize returns the analysis window size in samples.
func (d *OnsetDetector) WindowSize() int { return d.windowSize }

// HopSize returns the hop between analysis windows in samples.
func (d *OnsetDetector) HopSize() int { return d.hopSize }

// Flux computes the spectral-flux curve of samples: one value per analysis
// frame, each the half-wave-rectified frame-to-frame magnitude difference.
// Only positive-going spectral change counts, so onsets register and decays
// do not. The curve is normalized so its maximum is 1; an all-silent input
// yields an all-zero curve. Returns nil if samples is shorter than one
// analysis window.
func (d *OnsetDetector) Flux(samples []float64) []float64 {
	if len(samples) < d.windowSize {
		return nil
	}

	frames := 1 + (len(samples)-d.windowSize)/d.hopSize
	flux := make([]float64, frames)

	for i := range d.prev {
		d.prev[i] = 0
	}

	for fi := 0; fi < frames; fi++ {
		off := fi * d.hopSize
		for i := 0; i < d.windowSize; i++ {
			d.frame[i] = samples[off+i] * d.coeffs[i]
		}

		d.fft.Coefficients(d.output, d.frame)
		for i, c := range d.output {
			d.mag[i] = cmplx.Abs(c)
		}

		if fi > 0 {
			var sum float64
			for i, m := range d.mag {
				if diff := m - d.prev[i]; diff > 0 {
					sum += diff
				}
			}
			flux[fi] = sum
		}
		copy(d.prev, d.mag)
	}

	var max float64
	for _, v := range flux {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for i := range flux {
			flux[i] /= max
		}
	}
	return flux
}
