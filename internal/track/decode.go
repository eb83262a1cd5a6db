package track

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	applog "github.com/bhosie/chronoaudio/internal/log"
)

// Prepare probes a file's metadata without decoding samples. The returned
// track has no sample buffer; pair it with DecodeFull (off the latency
// path) before playback.
func Prepare(path string) (*Track, error) {
	format, err := formatForPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	defer f.Close()

	var t *Track
	switch format {
	case FormatWAV:
		t, err = prepareWAV(f)
	case FormatMP3:
		t, err = prepareMP3(f)
	case FormatOGG:
		t, err = prepareOGG(f)
	}
	if err != nil {
		return nil, err
	}

	t.Path = path
	t.Format = format
	applog.Debugf("track: prepared %s (%.2fs, %d Hz, %d ch, %d frames)",
		path, t.Duration, t.SampleRate, t.Channels, t.Frames)
	return t, nil
}

// DecodeFull decodes the whole file into a mono float64 buffer in [-1,1].
// Blocking and CPU-bound; callers must offload it.
func DecodeFull(path string) ([]float64, error) {
	format, err := formatForPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	defer f.Close()

	switch format {
	case FormatMP3:
		return decodeMP3(f)
	case FormatOGG:
		return decodeOGG(f)
	default:
		return decodeWAV(f)
	}
}

// Decode returns a copy of t carrying the fully decoded sample buffer.
func (t *Track) Decode() (*Track, error) {
	if t.Decoded() {
		return t, nil
	}
	samples, err := DecodeFull(t.Path)
	if err != nil {
		return nil, err
	}
	return t.WithSamples(samples), nil
}

func prepareWAV(f *os.File) (*Track, error) {
	d := wav.NewDecoder(f)
	d.ReadInfo()
	if d.Err() != nil || d.SampleRate == 0 || d.NumChans == 0 || d.BitDepth == 0 {
		return nil, fmt.Errorf("%w: invalid wav header", ErrFormatConversionFailed)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatConversionFailed, err)
	}

	bytesPerFrame := int64(d.BitDepth/8) * int64(d.NumChans)
	frames := int64(d.PCMSize) / bytesPerFrame
	return &Track{
		Duration:   float64(frames) / float64(d.SampleRate),
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Frames:     frames,
	}, nil
}

func prepareMP3(f *os.File) (*Track, error) {
	d, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatConversionFailed, err)
	}
	// go-mp3 always emits 16-bit stereo, so 4 bytes per frame.
	frames := d.Length() / 4
	return &Track{
		Duration:   float64(frames) / float64(d.SampleRate()),
		SampleRate: d.SampleRate(),
		Channels:   2,
		Frames:     frames,
	}, nil
}

func prepareOGG(f *os.File) (*Track, error) {
	length, format, err := oggvorbis.GetLength(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatConversionFailed, err)
	}
	return &Track{
		Duration:   float64(length) / float64(format.SampleRate),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Frames:     length,
	}, nil
}

func decodeWAV(f *os.File) ([]float64, error) {
	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatConversionFailed, err)
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("%w: no channels", ErrFormatConversionFailed)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	scale, err := pcmScale(bitDepth)
	if err != nil {
		return nil, err
	}

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[i*channels+ch]) / scale
		}
		samples[i] = sum / float64(channels)
	}
	return samples, nil
}

// pcmScale returns the full-scale divisor for signed PCM at the given bit
// depth. Malformed headers can leave the depth at zero, which must not
// reach the shift below.
func pcmScale(bitDepth int) (float64, error) {
	if bitDepth <= 0 || bitDepth > 32 {
		return 0, fmt.Errorf("%w: unsupported bit depth %d", ErrFormatConversionFailed, bitDepth)
	}
	return float64(int64(1) << (bitDepth - 1)), nil
}

func decodeMP3(f *os.File) ([]float64, error) {
	d, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatConversionFailed, err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	// 16-bit little-endian stereo; average the pair into mono.
	frames := len(raw) / 4
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		r := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		samples[i] = (float64(l) + float64(r)) / (2 * 32768.0)
	}
	return samples, nil
}

func decodeOGG(f *os.File) ([]float64, error) {
	data, format, err := oggvorbis.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatConversionFailed, err)
	}
	channels := format.Channels
	if channels <= 0 {
		return nil, fmt.Errorf("%w: no channels", ErrFormatConversionFailed)
	}

	frames := len(data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(data[i*channels+ch])
		}
		samples[i] = sum / float64(channels)
	}
	return samples, nil
}
