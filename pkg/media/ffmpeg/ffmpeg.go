// Package ffmpeg implements the [media] capability interfaces on top of
// FFmpeg's libavdevice, libavformat and libavcodec through
// github.com/asticode/go-astiav.
//
// [Opener] opens live capture devices (dshow, avfoundation, pulse, alsa, ...)
// and [MuxerFactory] allocates output containers with a single encoder-backed
// audio stream. Packets are copied between the two without decoding.
//
// Building this package requires the FFmpeg development libraries and cgo.
package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/MrWong99/audiocap/pkg/media"
)

var registerOnce sync.Once

// register makes libavdevice input formats discoverable and routes libav
// log output into slog.
func register() {
	registerOnce.Do(func() {
		astiav.RegisterAllDevices()
		astiav.SetLogLevel(astiav.LogLevelWarning)
		astiav.SetLogCallback(func(_ astiav.Classer, l astiav.LogLevel, _, msg string) {
			slog.Log(context.Background(), slogLevel(l), "libav: "+strings.TrimSpace(msg))
		})
	})
}

func slogLevel(l astiav.LogLevel) slog.Level {
	switch {
	case l <= astiav.LogLevelError:
		return slog.LevelError
	case l <= astiav.LogLevelWarning:
		return slog.LevelWarn
	case l <= astiav.LogLevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func toRational(r astiav.Rational) media.Rational {
	return media.NewRational(r.Num(), r.Den())
}

func fromRational(r media.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func mediaType(t astiav.MediaType) media.MediaType {
	switch t {
	case astiav.MediaTypeAudio:
		return media.MediaAudio
	case astiav.MediaTypeVideo:
		return media.MediaVideo
	case astiav.MediaTypeData:
		return media.MediaData
	case astiav.MediaTypeSubtitle:
		return media.MediaSubtitle
	default:
		return media.MediaUnknown
	}
}

// sampleFormats maps libav sample format names to their formats and sample
// widths in bits.
var sampleFormats = map[string]struct {
	format astiav.SampleFormat
	bits   int
}{
	"u8":   {astiav.SampleFormatU8, 8},
	"s16":  {astiav.SampleFormatS16, 16},
	"s32":  {astiav.SampleFormatS32, 32},
	"flt":  {astiav.SampleFormatFlt, 32},
	"dbl":  {astiav.SampleFormatDbl, 64},
	"u8p":  {astiav.SampleFormatU8P, 8},
	"s16p": {astiav.SampleFormatS16P, 16},
	"s32p": {astiav.SampleFormatS32P, 32},
	"fltp": {astiav.SampleFormatFltp, 32},
	"dblp": {astiav.SampleFormatDblp, 64},
}

// sampleFormat resolves name and checks it against bitsPerSample (0 skips
// the check).
func sampleFormat(name string, bitsPerSample int) (astiav.SampleFormat, error) {
	sf, ok := sampleFormats[name]
	if !ok {
		return astiav.SampleFormatNone, fmt.Errorf("unknown sample format %q", name)
	}
	if bitsPerSample != 0 && bitsPerSample != sf.bits {
		return astiav.SampleFormatNone, fmt.Errorf("sample format %s has %d bits per sample, not %d", name, sf.bits, bitsPerSample)
	}
	return sf.format, nil
}

func channelLayout(channels int) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	default:
		return astiav.ChannelLayout{}, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// dictionary builds a libav options dictionary. The caller frees it.
func dictionary(opts map[string]string) (*astiav.Dictionary, error) {
	d := astiav.NewDictionary()
	for k, v := range opts {
		if err := d.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
			d.Free()
			return nil, fmt.Errorf("set option %s=%s: %w", k, v, err)
		}
	}
	return d, nil
}
