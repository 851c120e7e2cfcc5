package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownSampleFormats lists the libav sample format names accepted for the
// output stream.
var KnownSampleFormats = []string{"u8", "s16", "s32", "flt", "dbl", "u8p", "s16p", "s32p", "fltp", "dblp"}

// Load reads the YAML configuration file at path, fills defaults and returns
// a validated [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Input
	if strings.TrimSpace(cfg.Input.Device) == "" {
		errs = append(errs, errors.New("input.device is required"))
	}
	if cfg.Input.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("input.sample_rate %d must not be negative", cfg.Input.SampleRate))
	}
	if cfg.Input.Channels < 0 {
		errs = append(errs, fmt.Errorf("input.channels %d must not be negative", cfg.Input.Channels))
	}
	if cfg.Input.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("input.buffer_size %d must not be negative", cfg.Input.BufferSize))
	}

	// Output
	if cfg.Output.Path == "" {
		errs = append(errs, errors.New("output.path is required"))
	} else if cfg.Output.Format == "" && filepath.Ext(cfg.Output.Path) == "" {
		errs = append(errs, fmt.Errorf("output.path %q has no extension; set output.format", cfg.Output.Path))
	}
	if cfg.Output.Codec == "" {
		errs = append(errs, errors.New("output.codec is required"))
	}
	if cfg.Output.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("output.sample_rate %d must be positive", cfg.Output.SampleRate))
	}
	if cfg.Output.Channels != 1 && cfg.Output.Channels != 2 {
		errs = append(errs, fmt.Errorf("output.channels %d is unsupported; valid values: 1, 2", cfg.Output.Channels))
	}
	if !slices.Contains(KnownSampleFormats, cfg.Output.SampleFormat) {
		errs = append(errs, fmt.Errorf("output.sample_format %q is invalid; valid values: %s", cfg.Output.SampleFormat, strings.Join(KnownSampleFormats, ", ")))
	}
	if cfg.Output.BitsPerSample < 0 {
		errs = append(errs, fmt.Errorf("output.bits_per_sample %d must not be negative", cfg.Output.BitsPerSample))
	}
	if cfg.Output.SampleRate > 0 && cfg.Input.SampleRate > 0 && cfg.Output.SampleRate != cfg.Input.SampleRate {
		slog.Warn("input and output sample rates differ; packets are copied without resampling",
			"input", cfg.Input.SampleRate,
			"output", cfg.Output.SampleRate,
		)
	}

	// Capture
	if cfg.Capture.Duration <= 0 {
		errs = append(errs, fmt.Errorf("capture.duration %s must be positive", cfg.Capture.Duration))
	}
	if cfg.Capture.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("capture.poll_interval %s must be positive", cfg.Capture.PollInterval))
	} else if cfg.Capture.PollInterval > time.Second {
		errs = append(errs, fmt.Errorf("capture.poll_interval %s is out of range (0, 1s]", cfg.Capture.PollInterval))
	}
	if cfg.Capture.ReadBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("capture.read_breaker.max_failures %d must not be negative", cfg.Capture.ReadBreaker.MaxFailures))
	}
	if cfg.Capture.ReadBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("capture.read_breaker.reset_timeout %s must not be negative", cfg.Capture.ReadBreaker.ResetTimeout))
	}

	// Archive
	a := cfg.Archive
	if !a.Enabled() && (a.Prefix != "" || a.Region != "" || a.Endpoint != "" || a.RemoveLocal) {
		slog.Warn("archive settings present but archive.bucket is empty; archiving is disabled")
	}
	if a.Endpoint != "" && !strings.HasPrefix(a.Endpoint, "http://") && !strings.HasPrefix(a.Endpoint, "https://") {
		errs = append(errs, fmt.Errorf("archive.endpoint %q must start with http:// or https://", a.Endpoint))
	}

	return errors.Join(errs...)
}
