// Package config provides the configuration schema, defaults and loader for
// audiocap.
package config

import (
	"time"

	"github.com/MrWong99/audiocap/internal/capture"
	"github.com/MrWong99/audiocap/internal/resilience"
	"github.com/MrWong99/audiocap/pkg/media"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Input   InputConfig   `yaml:"input"`
	Output  OutputConfig  `yaml:"output"`
	Capture CaptureConfig `yaml:"capture"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig holds logging and operational endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// during a run (e.g. ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}

// InputConfig selects the live capture device.
type InputConfig struct {
	// Device is the device URL understood by the input format, e.g.
	// "audio=Stereo Mix (Realtek(R) Audio)" for dshow.
	Device string `yaml:"device"`

	// Format is the libavdevice input format ("dshow", "pulse", "alsa",
	// "avfoundation"). Empty lets libav probe.
	Format string `yaml:"format"`

	// The following are advisory hints; devices may ignore them.
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	SampleFormat string `yaml:"sample_format"`
	BufferSize   int    `yaml:"buffer_size"`
}

// OutputConfig describes the destination container and its audio stream.
type OutputConfig struct {
	Path string `yaml:"path"`

	// Format overrides the container format inferred from Path.
	Format string `yaml:"format"`

	Codec         string `yaml:"codec"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	SampleFormat  string `yaml:"sample_format"`
	BitsPerSample int    `yaml:"bits_per_sample"`
}

// CaptureConfig tunes the capture loop.
type CaptureConfig struct {
	// Duration is the wall-clock capture budget.
	Duration time.Duration `yaml:"duration"`

	// PollInterval is the pause after a read that produced no data.
	PollInterval time.Duration `yaml:"poll_interval"`

	ReadBreaker BreakerConfig `yaml:"read_breaker"`
}

// BreakerConfig tunes the device read circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ArchiveConfig enables uploading the finished file to S3-compatible
// storage. Archiving is off when Bucket is empty.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint (MinIO, R2, ...). Path-style
	// addressing is used when it is set.
	Endpoint string `yaml:"endpoint"`

	// RemoveLocal deletes the local file after a successful upload.
	RemoveLocal bool `yaml:"remove_local"`
}

// Enabled reports whether archiving is configured.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// Default returns the configuration used when no file is given: 30 seconds
// of 44.1 kHz stereo PCM from the dshow "Stereo Mix" device into output.wav.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Input: InputConfig{
			Device:       "audio=Stereo Mix (Realtek(R) Audio)",
			Format:       "dshow",
			SampleRate:   44100,
			Channels:     2,
			SampleFormat: "s16",
			BufferSize:   1024,
		},
		Output: OutputConfig{
			Path:          "output.wav",
			Codec:         media.DefaultEncoder.Codec,
			SampleRate:    media.DefaultEncoder.SampleRate,
			Channels:      media.DefaultEncoder.Channels,
			SampleFormat:  media.DefaultEncoder.SampleFormat,
			BitsPerSample: media.DefaultEncoder.BitsPerSample,
		},
		Capture: CaptureConfig{
			Duration:     capture.DefaultBudget,
			PollInterval: capture.DefaultPollInterval,
			ReadBreaker: BreakerConfig{
				MaxFailures:  5,
				ResetTimeout: time.Second,
			},
		},
	}
}

// ApplyDefaults fills every zero field of cfg from [Default].
func ApplyDefaults(cfg *Config) {
	def := Default()

	setDefault(&cfg.Server.LogLevel, def.Server.LogLevel)

	setDefault(&cfg.Input.Device, def.Input.Device)
	setDefault(&cfg.Input.Format, def.Input.Format)
	setDefault(&cfg.Input.SampleRate, def.Input.SampleRate)
	setDefault(&cfg.Input.Channels, def.Input.Channels)
	setDefault(&cfg.Input.SampleFormat, def.Input.SampleFormat)
	setDefault(&cfg.Input.BufferSize, def.Input.BufferSize)

	setDefault(&cfg.Output.Path, def.Output.Path)
	setDefault(&cfg.Output.Codec, def.Output.Codec)
	setDefault(&cfg.Output.SampleRate, def.Output.SampleRate)
	setDefault(&cfg.Output.Channels, def.Output.Channels)
	setDefault(&cfg.Output.SampleFormat, def.Output.SampleFormat)
	setDefault(&cfg.Output.BitsPerSample, def.Output.BitsPerSample)

	setDefault(&cfg.Capture.Duration, def.Capture.Duration)
	setDefault(&cfg.Capture.PollInterval, def.Capture.PollInterval)
	setDefault(&cfg.Capture.ReadBreaker.MaxFailures, def.Capture.ReadBreaker.MaxFailures)
	setDefault(&cfg.Capture.ReadBreaker.ResetTimeout, def.Capture.ReadBreaker.ResetTimeout)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// CaptureRun converts cfg into the controller configuration for one run.
func (cfg *Config) CaptureRun() capture.Config {
	return capture.Config{
		Device:      cfg.Input.Device,
		InputFormat: cfg.Input.Format,
		Hints: media.Hints{
			SampleRate:   cfg.Input.SampleRate,
			Channels:     cfg.Input.Channels,
			SampleFormat: cfg.Input.SampleFormat,
			BufferSize:   cfg.Input.BufferSize,
		},
		OutputPath:   cfg.Output.Path,
		OutputFormat: cfg.Output.Format,
		Encoder: media.EncoderConfig{
			Codec:         cfg.Output.Codec,
			SampleRate:    cfg.Output.SampleRate,
			Channels:      cfg.Output.Channels,
			SampleFormat:  cfg.Output.SampleFormat,
			BitsPerSample: cfg.Output.BitsPerSample,
		},
		Budget:       cfg.Capture.Duration,
		PollInterval: cfg.Capture.PollInterval,
		ReadBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Capture.ReadBreaker.MaxFailures,
			ResetTimeout: cfg.Capture.ReadBreaker.ResetTimeout,
		},
	}
}
