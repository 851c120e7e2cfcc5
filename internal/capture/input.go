package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/audiocap/internal/observe"
	"github.com/MrWong99/audiocap/pkg/media"
)

// InputSession owns an open live input and its selected audio stream.
type InputSession struct {
	src      media.Source
	device   string
	stream   media.StreamInfo
	selected bool
	closed   bool

	// discarded counts packets dropped because they belong to another stream.
	discarded int64
}

// OpenInput opens device through opener and probes its streams. On a probe
// failure the source is closed before returning, so callers only own the
// session when err is nil.
func OpenInput(ctx context.Context, opener media.Opener, format, device string, hints media.Hints) (*InputSession, error) {
	src, err := opener.Open(ctx, format, device, hints)
	if err != nil {
		return nil, media.NewError(media.KindDeviceOpenFailed, "open input "+device, err)
	}
	if err := src.Probe(ctx); err != nil {
		if cerr := src.Close(); cerr != nil {
			slog.Warn("close input after failed probe", "device", device, "err", cerr)
		}
		return nil, media.NewError(media.KindStreamInfoUnavailable, "probe input "+device, err)
	}

	log := observe.Logger(ctx)
	for _, s := range src.Streams() {
		log.Info("input stream",
			"device", device,
			"index", s.Index,
			"type", s.Type.String(),
			"codec", s.Codec,
			"time_base", s.TimeBase.String(),
		)
	}
	return &InputSession{src: src, device: device}, nil
}

// SelectAudioStream selects the first audio stream in enumeration order. The
// selection is fixed for the session's lifetime; later calls return it again.
func (s *InputSession) SelectAudioStream() (int, error) {
	if s.selected {
		return s.stream.Index, nil
	}
	for _, st := range s.src.Streams() {
		if st.Type != media.MediaAudio {
			continue
		}
		if !st.TimeBase.IsValid() {
			return -1, media.NewError(media.KindStreamInfoUnavailable, "select audio stream",
				fmt.Errorf("audio stream %d has invalid time base %s", st.Index, st.TimeBase))
		}
		s.stream = st
		s.selected = true
		return st.Index, nil
	}
	return -1, media.NewError(media.KindNoAudioStream, "select audio stream", nil)
}

// Stream returns the selected stream. It is the zero value before
// [InputSession.SelectAudioStream] succeeds.
func (s *InputSession) Stream() media.StreamInfo { return s.stream }

// TimeBase returns the selected stream's time base.
func (s *InputSession) TimeBase() media.Rational { return s.stream.TimeBase }

// Discarded returns how many packets of unselected streams were dropped.
func (s *InputSession) Discarded() int64 { return s.discarded }

// ReadPacket returns the next packet of the selected stream. It returns
// [media.ErrNoData] when nothing is available, including when the packet read
// belonged to another stream; that packet is released here.
func (s *InputSession) ReadPacket(ctx context.Context) (*media.Packet, error) {
	if !s.selected {
		return nil, media.NewError(media.KindPacketReadFailed, "read packet", errors.New("no stream selected"))
	}
	p, err := s.src.ReadPacket(ctx)
	if err != nil {
		if errors.Is(err, media.ErrNoData) {
			return nil, media.ErrNoData
		}
		return nil, media.NewError(media.KindPacketReadFailed, "read packet", err)
	}
	if p.StreamIndex != s.stream.Index {
		p.Release()
		s.discarded++
		return nil, media.ErrNoData
	}
	return p, nil
}

// Close releases the input handle. It is safe to call more than once.
func (s *InputSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}
