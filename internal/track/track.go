// Package track loads audio files into the immutable AudioTrack model the
// playback engine and the tempo detector consume. Prepare probes metadata
// only; DecodeFull is the one blocking, CPU-bound call and must be kept off
// any latency-sensitive goroutine.
package track

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a supported container/codec.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOGG Format = "ogg"
)

// Track describes a loaded audio file. The sample buffer is optional:
// Prepare returns a metadata-only track, and a fully decoded one is a new
// value produced by WithSamples, never a mutation of the original.
type Track struct {
	Path       string
	Format     Format
	Duration   float64 // seconds
	SampleRate int     // Hz, file-native
	Channels   int     // channel count of the source file
	Frames     int64   // total frames at the file sample rate

	samples []float64 // mono, [-1,1]; nil until decoded
}

// Samples returns the decoded mono buffer, or nil if only metadata has
// loaded.
func (t *Track) Samples() []float64 { return t.samples }

// Decoded reports whether the sample buffer is present.
func (t *Track) Decoded() bool { return t.samples != nil }

// WithSamples returns a copy of t carrying the decoded buffer.
func (t *Track) WithSamples(samples []float64) *Track {
	c := *t
	c.samples = samples
	return &c
}

// formatForPath maps a file extension to a Format.
func formatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	case ".ogg", ".oga":
		return FormatOGG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
