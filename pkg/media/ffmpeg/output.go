package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/MrWong99/audiocap/pkg/media"
)

// Compile-time interface assertions.
var (
	_ media.MuxerFactory = (*MuxerFactory)(nil)
	_ media.Muxer        = (*Muxer)(nil)
)

// MuxerFactory allocates libav output containers.
type MuxerFactory struct{}

// NewMuxerFactory returns a MuxerFactory.
func NewMuxerFactory() *MuxerFactory {
	register()
	return &MuxerFactory{}
}

// Create allocates an output context for path. An empty format lets libav
// guess it from the file extension.
func (f *MuxerFactory) Create(path, format string) (media.Muxer, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, format, path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: allocate output context for %s: %w", path, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("ffmpeg: allocate output context for %s: no matching format", path)
	}
	return &Muxer{fc: fc, path: path}, nil
}

// Muxer is a libav output container with one audio stream.
type Muxer struct {
	fc     *astiav.FormatContext
	path   string
	cc     *astiav.CodecContext
	stream *astiav.Stream
	ioc    *astiav.IOContext
	pkt    *astiav.Packet
}

// AddAudioStream opens the encoder described by enc and adds a stream whose
// codec parameters mirror it. The encoder is only used to derive those
// parameters; packets are never re-encoded.
func (m *Muxer) AddAudioStream(enc media.EncoderConfig) (media.StreamInfo, error) {
	codec := astiav.FindEncoderByName(enc.Codec)
	if codec == nil {
		return media.StreamInfo{}, fmt.Errorf("ffmpeg: %s: %w", enc.Codec, media.ErrEncoderNotFound)
	}
	sf, err := sampleFormat(enc.SampleFormat, enc.BitsPerSample)
	if err != nil {
		return media.StreamInfo{}, fmt.Errorf("ffmpeg: encoder %s: %w", enc.Codec, err)
	}
	layout, err := channelLayout(enc.Channels)
	if err != nil {
		return media.StreamInfo{}, fmt.Errorf("ffmpeg: encoder %s: %w", enc.Codec, err)
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return media.StreamInfo{}, fmt.Errorf("ffmpeg: allocate codec context for %s", enc.Codec)
	}
	cc.SetSampleRate(enc.SampleRate)
	cc.SetChannelLayout(layout)
	cc.SetSampleFormat(sf)
	cc.SetTimeBase(fromRational(media.NewRational(1, enc.SampleRate)))
	if m.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader) {
		cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return media.StreamInfo{}, fmt.Errorf("ffmpeg: open encoder %s: %w", enc.Codec, err)
	}

	st := m.fc.NewStream(nil)
	if st == nil {
		cc.Free()
		return media.StreamInfo{}, errors.New("ffmpeg: add output stream")
	}
	if err := st.CodecParameters().FromCodecContext(cc); err != nil {
		cc.Free()
		return media.StreamInfo{}, fmt.Errorf("ffmpeg: copy codec parameters: %w", err)
	}
	st.SetTimeBase(cc.TimeBase())

	m.cc = cc
	m.stream = st
	return media.StreamInfo{
		Index:    st.Index(),
		Type:     media.MediaAudio,
		TimeBase: toRational(st.TimeBase()),
		Codec:    enc.Codec,
	}, nil
}

// NeedsFile reports whether the format writes through an IO context.
func (m *Muxer) NeedsFile() bool {
	return !m.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile)
}

// OpenFile opens path for writing and attaches it to the container.
func (m *Muxer) OpenFile() error {
	ioc, err := astiav.OpenIOContext(m.path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		return fmt.Errorf("ffmpeg: open %s: %w", m.path, err)
	}
	m.ioc = ioc
	m.fc.SetPb(ioc)
	return nil
}

// WriteHeader implements [media.Muxer].
func (m *Muxer) WriteHeader() error {
	if err := m.fc.WriteHeader(nil); err != nil {
		return fmt.Errorf("ffmpeg: write header: %w", err)
	}
	return nil
}

// TimeBase returns the stream time base, which libav may have changed while
// writing the header.
func (m *Muxer) TimeBase(index int) media.Rational {
	for _, st := range m.fc.Streams() {
		if st.Index() == index {
			return toRational(st.TimeBase())
		}
	}
	return media.Rational{}
}

// WritePacket copies p into a libav packet and hands it to the interleaver.
func (m *Muxer) WritePacket(p *media.Packet) error {
	if m.pkt == nil {
		m.pkt = astiav.AllocPacket()
	}
	defer m.pkt.Unref()

	if err := m.pkt.FromData(p.Data); err != nil {
		return fmt.Errorf("ffmpeg: packet from data: %w", err)
	}
	m.pkt.SetStreamIndex(p.StreamIndex)
	m.pkt.SetPts(p.PTS)
	m.pkt.SetDts(p.DTS)
	m.pkt.SetDuration(p.Duration)
	m.pkt.SetPos(p.Pos)

	if err := m.fc.WriteInterleavedFrame(m.pkt); err != nil {
		return fmt.Errorf("ffmpeg: write frame pts=%d: %w", p.PTS, err)
	}
	return nil
}

// WriteTrailer implements [media.Muxer].
func (m *Muxer) WriteTrailer() error {
	if err := m.fc.WriteTrailer(); err != nil {
		return fmt.Errorf("ffmpeg: write trailer: %w", err)
	}
	return nil
}

// CloseFile closes the IO context opened by [Muxer.OpenFile].
func (m *Muxer) CloseFile() error {
	if m.ioc == nil {
		return nil
	}
	ioc := m.ioc
	m.ioc = nil
	if err := ioc.Close(); err != nil {
		return fmt.Errorf("ffmpeg: close %s: %w", m.path, err)
	}
	return nil
}

// Free releases the encoder, the scratch packet and the container.
func (m *Muxer) Free() {
	if m.pkt != nil {
		m.pkt.Free()
		m.pkt = nil
	}
	if m.cc != nil {
		m.cc.Free()
		m.cc = nil
	}
	if m.fc != nil {
		m.fc.Free()
		m.fc = nil
	}
}
