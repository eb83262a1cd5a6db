package config

import "time"

// Core constants bounding the playback engine and the analysis pipeline.
const (
	// Playback rate clamp. Rate affects the time-stretch stage only and
	// never enters any frame-position arithmetic.
	MinRate     = 0.25
	MaxRate     = 1.0
	DefaultRate = 1.0

	// Loop regions narrower than this are rejected outright.
	MinLoopSeconds = 0.5

	// UI time-refresh poll period.
	DefaultPollInterval = 50 * time.Millisecond

	// Render graph defaults.
	DefaultOutputDevice    = -1 // -1 selects the system default device
	DefaultFramesPerBuffer = 512
	MinSampleRate          = 8000
	MaxSampleRate          = 192000

	// Onset detection. Window size must be a power of two.
	DefaultWindowSize = 1024
	DefaultHopSize    = 512
	DefaultPeakWindow = 16  // frames around a candidate for the adaptive threshold
	DefaultPeakStddev = 1.2 // flux must exceed mean + k*stddev of the local window

	// Tempo estimation.
	MinOnsets     = 4
	MinFluxFrames = 8
	HistogramBins = 200
	MinBPM        = 60.0
	MaxBPM        = 200.0
	MinIOISeconds = 0.3 // 200 BPM equivalent
	MaxIOISeconds = 1.0 // 60 BPM equivalent

	// Metronome scheduling.
	DefaultBeatUnit       = 4
	DefaultLookaheadBeats = 8
	DefaultClickInterval  = 200 * time.Millisecond
	DefaultClickSafety    = 100 * time.Millisecond
	DefaultClickFrequency = 1000.0 // Hz
	DefaultClickDuration  = 30 * time.Millisecond
)

// Config holds all runtime options, loaded from YAML and/or CLI flags.
type Config struct {
	Debug    bool           `yaml:"debug"`
	LogLevel string         `yaml:"log_level"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	Click    ClickConfig    `yaml:"click"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Serve    ServeConfig    `yaml:"serve"`
}

// AudioConfig holds render graph output settings.
type AudioConfig struct {
	OutputDevice    int  `yaml:"output_device"`     // PortAudio device index (-1 for default)
	FramesPerBuffer int  `yaml:"frames_per_buffer"` // callback buffer size in frames
	LowLatency      bool `yaml:"low_latency"`       // request low latency from the device
}

// PlaybackConfig holds transport defaults applied on load.
type PlaybackConfig struct {
	Rate         float64       `yaml:"rate"`          // initial playback rate (0.25-1.0)
	LoopIn       float64       `yaml:"loop_in"`       // initial loop in point, seconds
	LoopOut      float64       `yaml:"loop_out"`      // initial loop out point, seconds
	LoopEnabled  bool          `yaml:"loop_enabled"`  // start with the loop armed
	PollInterval time.Duration `yaml:"poll_interval"` // time-refresh period
}

// ClickConfig holds metronome settings.
type ClickConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BPM            float64       `yaml:"bpm"`             // 0 means use the detected tempo
	BeatUnit       int           `yaml:"beat_unit"`       // 4=quarter notes, 8=eighth notes
	LookaheadBeats int           `yaml:"lookahead_beats"` // beats scheduled ahead of the clock
	Interval       time.Duration `yaml:"interval"`        // re-arm timer period
	Safety         time.Duration `yaml:"safety"`          // anchor offset past "now"
	Frequency      float64       `yaml:"frequency"`       // click tone frequency in Hz
}

// AnalysisConfig holds onset/tempo detection tunables.
type AnalysisConfig struct {
	WindowSize int     `yaml:"window_size"` // FFT analysis window, power of two
	HopSize    int     `yaml:"hop_size"`    // frames between analysis windows
	PeakWindow int     `yaml:"peak_window"` // adaptive threshold neighborhood, frames
	PeakStddev float64 `yaml:"peak_stddev"` // threshold is mean + this many stddevs
}

// ServeConfig holds the state broadcast settings for UI observers.
type ServeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // websocket listen address, e.g. ":8090"
}

// NewConfig returns a Config populated with defaults. This is the base
// before YAML, environment and flag overrides are applied.
func NewConfig() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			OutputDevice:    DefaultOutputDevice,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      false,
		},
		Playback: PlaybackConfig{
			Rate:         DefaultRate,
			PollInterval: DefaultPollInterval,
		},
		Click: ClickConfig{
			Enabled:        false,
			BeatUnit:       DefaultBeatUnit,
			LookaheadBeats: DefaultLookaheadBeats,
			Interval:       DefaultClickInterval,
			Safety:         DefaultClickSafety,
			Frequency:      DefaultClickFrequency,
		},
		Analysis: AnalysisConfig{
			WindowSize: DefaultWindowSize,
			HopSize:    DefaultHopSize,
			PeakWindow: DefaultPeakWindow,
			PeakStddev: DefaultPeakStddev,
		},
		Serve: ServeConfig{
			Enabled: false,
			Addr:    ":8090",
		},
	}
}
