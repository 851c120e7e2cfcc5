// Package media defines the types and capability interfaces shared by the
// capture pipeline and its media library adapters.
//
// The two capability pairs are:
//
//   - [Opener] / [Source] opens a live input and yields encoded [Packet]s.
//   - [MuxerFactory] / [Muxer] allocates an output container and writes
//     packets into it.
//
// Timestamps travel as int64 values in a stream's [Rational] time base and are
// converted between streams with [Rescale].
//
// This package lives under pkg/ because adapters for other media libraries are
// expected to implement these interfaces.
package media

import (
	"context"
	"strconv"
)

// MediaType classifies a stream.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaAudio
	MediaVideo
	MediaData
	MediaSubtitle
)

// String returns the lower-case name of the media type.
func (t MediaType) String() string {
	switch t {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaData:
		return "data"
	case MediaSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// StreamInfo describes one stream discovered in an input or created in an
// output container.
type StreamInfo struct {
	Index    int
	Type     MediaType
	TimeBase Rational

	// Codec is the library's codec name (e.g. "pcm_s16le"); informational.
	Codec string
}

// Hints are the desired capture parameters passed to a device on open.
// Zero values are left for the device to choose.
type Hints struct {
	SampleRate   int
	Channels     int
	SampleFormat string
	BufferSize   int
}

// Options renders h as libav-style named options. Unset fields are omitted.
func (h Hints) Options() map[string]string {
	opts := make(map[string]string, 4)
	if h.SampleRate > 0 {
		opts["sample_rate"] = strconv.Itoa(h.SampleRate)
	}
	if h.Channels > 0 {
		opts["channels"] = strconv.Itoa(h.Channels)
	}
	if h.SampleFormat != "" {
		opts["sample_fmt"] = h.SampleFormat
	}
	if h.BufferSize > 0 {
		opts["audio_buffer_size"] = strconv.Itoa(h.BufferSize)
	}
	return opts
}

// EncoderConfig describes the output stream's encoding. For the uncompressed
// PCM codecs this is purely a bit layout; packets are never re-encoded.
type EncoderConfig struct {
	Codec         string
	SampleRate    int
	Channels      int
	SampleFormat  string
	BitsPerSample int
}

// DefaultEncoder is 16-bit little-endian stereo PCM at 44.1 kHz.
var DefaultEncoder = EncoderConfig{
	Codec:         "pcm_s16le",
	SampleRate:    44100,
	Channels:      2,
	SampleFormat:  "s16",
	BitsPerSample: 16,
}

// Opener opens named live inputs.
//
// Implementations must be safe for concurrent use.
type Opener interface {
	// Open opens device using the given input format (e.g. "dshow", "pulse";
	// empty lets the library probe) and capture hints. The returned Source
	// must be closed by the caller.
	Open(ctx context.Context, format, device string, hints Hints) (Source, error)
}

// Source is an open live input. A Source is used from a single goroutine.
type Source interface {
	// Probe reads enough of the input to discover its streams.
	Probe(ctx context.Context) error

	// Streams returns the discovered streams in enumeration order. It is only
	// meaningful after a successful Probe.
	Streams() []StreamInfo

	// ReadPacket returns the next packet from any stream. It returns
	// [ErrNoData] when nothing is buffered yet.
	ReadPacket(ctx context.Context) (*Packet, error)

	// Close releases the input handle. Subsequent calls return nil.
	Close() error
}

// MuxerFactory allocates output containers.
type MuxerFactory interface {
	// Create allocates a container for path. format overrides the format
	// otherwise inferred from the path's extension.
	Create(path, format string) (Muxer, error)
}

// Muxer is an output container with its byte sink. A Muxer is used from a
// single goroutine.
type Muxer interface {
	// AddAudioStream configures an encoder and attaches a stream mirroring it.
	// It returns an error wrapping [ErrEncoderNotFound] if the codec is not
	// available.
	AddAudioStream(enc EncoderConfig) (StreamInfo, error)

	// NeedsFile reports whether the container requires an explicit byte sink.
	NeedsFile() bool

	// OpenFile opens the byte sink.
	OpenFile() error

	// WriteHeader writes the container header.
	WriteHeader() error

	// TimeBase returns the current time base of stream index. Containers may
	// adjust it while writing the header.
	TimeBase(index int) Rational

	// WritePacket writes p, interleaving by timestamp as the container needs.
	WritePacket(p *Packet) error

	// WriteTrailer flushes interleaving buffers and writes the trailer.
	WriteTrailer() error

	// CloseFile closes the byte sink.
	CloseFile() error

	// Free releases the container and encoder handles.
	Free()
}
