package track

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTestWAV writes a 16-bit PCM file containing a 440Hz sine.
func writeTestWAV(t *testing.T, path string, sampleRate, channels, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, frames*channels),
	}
	for i := 0; i < frames; i++ {
		v := int(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)) * 16000)
		for ch := 0; ch < channels; ch++ {
			buf.Data[i*channels+ch] = v
		}
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPrepareWAVMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	writeTestWAV(t, path, 44100, 2, 44100)

	tr, err := Prepare(path)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if tr.SampleRate != 44100 {
		t.Errorf("sample rate = %d, expected 44100", tr.SampleRate)
	}
	if tr.Channels != 2 {
		t.Errorf("channels = %d, expected 2", tr.Channels)
	}
	if tr.Frames != 44100 {
		t.Errorf("frames = %d, expected 44100", tr.Frames)
	}
	if math.Abs(tr.Duration-1.0) > 1e-6 {
		t.Errorf("duration = %v, expected 1.0", tr.Duration)
	}
	if tr.Decoded() {
		t.Error("Prepare must not decode samples")
	}
}

func TestDecodeFullDownmixesToMono(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	writeTestWAV(t, path, 22050, 2, 2205)

	samples, err := DecodeFull(path)
	if err != nil {
		t.Fatalf("DecodeFull: %v", err)
	}
	if len(samples) != 2205 {
		t.Fatalf("mono frame count = %d, expected 2205", len(samples))
	}
	for i, s := range samples {
		if s < -1.0 || s > 1.0 {
			t.Fatalf("sample %d = %v outside [-1,1]", i, s)
		}
	}
	// Both channels carry the same sine, so the downmix keeps its shape.
	expected := math.Sin(2*math.Pi*440*100/22050) * 16000 / 32768.0
	if math.Abs(samples[100]-expected) > 1e-3 {
		t.Errorf("sample 100 = %v, expected ~%v", samples[100], expected)
	}
}

func TestDecodeReturnsNewTrack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	writeTestWAV(t, path, 8000, 1, 800)

	meta, err := Prepare(path)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := meta.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if meta.Decoded() {
		t.Error("original track must remain metadata-only")
	}
	if !decoded.Decoded() {
		t.Error("decoded copy must carry samples")
	}
	if decoded.Path != meta.Path || decoded.Frames != meta.Frames {
		t.Error("decoded copy lost metadata")
	}
}

func TestPCMScale(t *testing.T) {
	tests := []struct {
		bitDepth int
		scale    float64
		wantErr  bool
	}{
		{16, 32768, false},
		{24, 8388608, false},
		{8, 128, false},
		{32, 2147483648, false},
		{0, 0, true}, // malformed header leaves depth unset
		{-3, 0, true},
		{64, 0, true},
	}
	for _, tt := range tests {
		scale, err := pcmScale(tt.bitDepth)
		if tt.wantErr {
			if !errors.Is(err, ErrFormatConversionFailed) {
				t.Errorf("pcmScale(%d) err = %v, expected ErrFormatConversionFailed", tt.bitDepth, err)
			}
			continue
		}
		if err != nil || scale != tt.scale {
			t.Errorf("pcmScale(%d) = (%v, %v), expected %v", tt.bitDepth, scale, err, tt.scale)
		}
	}
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Prepare("song.flac")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Prepare(filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, ErrReadFailed) {
		t.Errorf("expected ErrReadFailed, got %v", err)
	}
}
