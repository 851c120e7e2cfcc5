package config

import "fmt"

// Override is a single setting whose value differs between two configs.
type Override struct {
	Field string // YAML path, e.g. "capture.duration"
	Old   string
	New   string
}

// String formats o as "field: old -> new".
func (o Override) String() string {
	return fmt.Sprintf("%s: %s -> %s", o.Field, o.Old, o.New)
}

// Diff compares old and new and returns every setting that differs, in
// schema order. Comparing against [Default] shows what a config file or
// command-line flags changed.
func Diff(old, new *Config) []Override {
	var out []Override
	add := func(field string, o, n any) {
		a, b := fmt.Sprint(o), fmt.Sprint(n)
		if a != b {
			out = append(out, Override{Field: field, Old: a, New: b})
		}
	}

	add("server.log_level", old.Server.LogLevel, new.Server.LogLevel)
	add("server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr)

	add("input.device", old.Input.Device, new.Input.Device)
	add("input.format", old.Input.Format, new.Input.Format)
	add("input.sample_rate", old.Input.SampleRate, new.Input.SampleRate)
	add("input.channels", old.Input.Channels, new.Input.Channels)
	add("input.sample_format", old.Input.SampleFormat, new.Input.SampleFormat)
	add("input.buffer_size", old.Input.BufferSize, new.Input.BufferSize)

	add("output.path", old.Output.Path, new.Output.Path)
	add("output.format", old.Output.Format, new.Output.Format)
	add("output.codec", old.Output.Codec, new.Output.Codec)
	add("output.sample_rate", old.Output.SampleRate, new.Output.SampleRate)
	add("output.channels", old.Output.Channels, new.Output.Channels)
	add("output.sample_format", old.Output.SampleFormat, new.Output.SampleFormat)
	add("output.bits_per_sample", old.Output.BitsPerSample, new.Output.BitsPerSample)

	add("capture.duration", old.Capture.Duration, new.Capture.Duration)
	add("capture.poll_interval", old.Capture.PollInterval, new.Capture.PollInterval)
	add("capture.read_breaker.max_failures", old.Capture.ReadBreaker.MaxFailures, new.Capture.ReadBreaker.MaxFailures)
	add("capture.read_breaker.reset_timeout", old.Capture.ReadBreaker.ResetTimeout, new.Capture.ReadBreaker.ResetTimeout)

	add("archive.bucket", old.Archive.Bucket, new.Archive.Bucket)
	add("archive.prefix", old.Archive.Prefix, new.Archive.Prefix)
	add("archive.region", old.Archive.Region, new.Archive.Region)
	add("archive.endpoint", old.Archive.Endpoint, new.Archive.Endpoint)
	add("archive.remove_local", old.Archive.RemoveLocal, new.Archive.RemoveLocal)

	return out
}
