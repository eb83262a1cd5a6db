package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/bhosie/chronoaudio/internal/config"
	applog "github.com/bhosie/chronoaudio/internal/log"
)

// Estimator consumes a spectral-flux curve, picks onset peaks with an
// adaptive threshold, and votes inter-onset intervals into a BPM histogram.
// Detection returning (0, false) is an expected outcome on ambient or
// atonal material, not an error.
type Estimator struct {
	det        *OnsetDetector
	peakWindow int
	peakStddev float64
}

// NewEstimator builds an estimator from analysis settings.
func NewEstimator(cfg config.AnalysisConfig) (*Estimator, error) {
	det, err := NewOnsetDetector(cfg.WindowSize, cfg.HopSize)
	if err != nil {
		return nil, err
	}
	return &Estimator{
		det:        det,
		peakWindow: cfg.PeakWindow,
		peakStddev: cfg.PeakStddev,
	}, nil
}

// Detect estimates the tempo of a mono sample buffer in BPM, rounded to the
// nearest 0.5. ok is false when the buffer is too short, too few onsets are
// found, or no interval lands in the 60-200 BPM range.
func (e *Estimator) Detect(samples []float64, sampleRate float64) (bpm float64, ok bool) {
	if sampleRate <= 0 || len(samples) < 4*e.det.HopSize() {
		return 0, false
	}

	flux := e.det.Flux(samples)
	if len(flux) < config.MinFluxFrames {
		return 0, false
	}

	onsets := e.pickPeaks(flux)
	if len(onsets) < config.MinOnsets {
		applog.Debugf("analysis: %d onsets, need %d", len(onsets), config.MinOnsets)
		return 0, false
	}

	// Onset frame indices to seconds.
	times := make([]float64, len(onsets))
	for i, idx := range onsets {
		times[i] = float64(idx*e.det.HopSize()) / sampleRate
	}

	// Each successive interval votes at three metrical levels. True tempo
	// accumulates votes across levels; spurious periodicities do not,
	// which is what keeps the estimate off half- and double-tempo locks.
	var hist [config.HistogramBins]int
	binWidth := (config.MaxBPM - config.MinBPM) / config.HistogramBins
	voted := false
	for i := 1; i < len(times); i++ {
		ioi := times[i] - times[i-1]
		for _, interval := range [3]float64{ioi, ioi * 2, ioi / 2} {
			if interval < config.MinIOISeconds || interval > config.MaxIOISeconds {
				continue
			}
			bin := int((60/interval - config.MinBPM) / binWidth)
			if bin < 0 {
				bin = 0
			} else if bin >= config.HistogramBins {
				bin = config.HistogramBins - 1
			}
			hist[bin]++
			voted = true
		}
	}
	if !voted {
		return 0, false
	}

	// Peak bin; ties resolve toward the higher-BPM bin so a metrically
	// ambiguous click track reads at its base tempo rather than half of it.
	best, votes := 0, 0
	for i, v := range hist {
		if v >= votes && v > 0 {
			best, votes = i, v
		}
	}

	center := config.MinBPM + (float64(best)+0.5)*binWidth
	return math.Round(center*2) / 2, true
}

// pickPeaks returns the indices of flux frames that are strict local maxima
// and exceed mean + k*stddev of a local window around them. The window
// clamps asymmetrically at the curve edges; estimates near the first or
// last frame of very short buffers are slightly biased as a result.
func (e *Estimator) pickPeaks(flux []float64) []int {
	var onsets []int
	half := e.peakWindow / 2

	for i := 1; i < len(flux)-1; i++ {
		if flux[i] <= flux[i-1] || flux[i] <= flux[i+1] {
			continue
		}

		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi > len(flux) {
			hi = len(flux)
		}

		mean, stddev := stat.MeanStdDev(flux[lo:hi], nil)
		if flux[i] > mean+e.peakStddev*stddev {
			onsets = append(onsets, i)
		}
	}
	return onsets
}
