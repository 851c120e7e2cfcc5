package ffmpeg

import (
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/MrWong99/audiocap/pkg/media"
)

// Compile-time interface assertions.
var (
	_ media.Opener = (*Opener)(nil)
	_ media.Source = (*Source)(nil)
)

// Opener opens live capture devices through libavdevice.
type Opener struct{}

// NewOpener registers all libavdevice input formats and returns an Opener.
func NewOpener() *Opener {
	register()
	return &Opener{}
}

// Open opens device with the named input format in non-blocking mode so that
// [Source.ReadPacket] reports [media.ErrNoData] instead of stalling. Hints are
// passed as format options; options the device does not know are ignored by
// libav.
func (o *Opener) Open(ctx context.Context, format, device string, hints media.Hints) (media.Source, error) {
	var inputFormat *astiav.InputFormat
	if format != "" {
		if inputFormat = astiav.FindInputFormat(format); inputFormat == nil {
			return nil, fmt.Errorf("ffmpeg: input format %q not found", format)
		}
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("ffmpeg: allocate input format context")
	}
	fc.SetFlags(fc.Flags().Add(astiav.FormatContextFlagNonblock))

	interrupter := astiav.NewIOInterrupter()
	fc.SetIOInterrupter(interrupter)
	stop := context.AfterFunc(ctx, interrupter.Interrupt)
	defer stop()

	opts, err := dictionary(hints.Options())
	if err != nil {
		fc.Free()
		interrupter.Free()
		return nil, fmt.Errorf("ffmpeg: open %s: %w", device, err)
	}
	defer opts.Free()

	if err := fc.OpenInput(device, inputFormat, opts); err != nil {
		// libav frees the context on a failed open.
		interrupter.Free()
		return nil, fmt.Errorf("ffmpeg: open %s: %w", device, err)
	}
	return &Source{fc: fc, interrupter: interrupter}, nil
}

// Source is an open libav input.
type Source struct {
	fc          *astiav.FormatContext
	interrupter *astiav.IOInterrupter
	streams     []media.StreamInfo
	closed      bool
}

// Probe reads stream information. Cancelling ctx interrupts it.
func (s *Source) Probe(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.interrupter.Interrupt)
	defer stop()

	if err := s.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("ffmpeg: find stream info: %w", err)
	}
	s.streams = s.streams[:0]
	for _, st := range s.fc.Streams() {
		cp := st.CodecParameters()
		s.streams = append(s.streams, media.StreamInfo{
			Index:    st.Index(),
			Type:     mediaType(cp.MediaType()),
			TimeBase: toRational(st.TimeBase()),
			Codec:    cp.CodecID().String(),
		})
	}
	return nil
}

// Streams implements [media.Source].
func (s *Source) Streams() []media.StreamInfo { return s.streams }

// ReadPacket reads the next packet. The returned packet owns a libav packet
// that is freed by [media.Packet.Release].
func (s *Source) ReadPacket(ctx context.Context) (*media.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkt := astiav.AllocPacket()
	if err := s.fc.ReadFrame(pkt); err != nil {
		pkt.Free()
		if errors.Is(err, astiav.ErrEagain) {
			return nil, media.ErrNoData
		}
		if errors.Is(err, astiav.ErrEof) {
			return nil, fmt.Errorf("ffmpeg: read frame: device stopped: %w", err)
		}
		return nil, fmt.Errorf("ffmpeg: read frame: %w", err)
	}

	p := media.NewPacket(pkt.Free)
	p.StreamIndex = pkt.StreamIndex()
	p.PTS = pkt.Pts()
	p.DTS = pkt.Dts()
	p.Duration = pkt.Duration()
	p.Pos = pkt.Pos()
	p.Data = pkt.Data()
	return p, nil
}

// Close closes the input and frees its context.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.fc.CloseInput()
	s.fc.Free()
	s.interrupter.Free()
	return nil
}
