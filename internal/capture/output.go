package capture

import (
	"errors"
	"log/slog"

	"github.com/MrWong99/audiocap/pkg/media"
)

// errHeaderNotWritten is wrapped into packet write failures issued before the
// header; it indicates a sequencing bug in the caller.
var errHeaderNotWritten = errors.New("header not written")

// OutputSession owns an output container and its single audio stream.
//
// Lifecycle: [CreateOutput] → [OutputSession.AddAudioStream] →
// [OutputSession.OpenSink] → [OutputSession.WriteHeader] →
// [OutputSession.WritePacket]* → [OutputSession.Finalize] →
// [OutputSession.Close]. Close is also the cleanup for every earlier
// failure.
type OutputSession struct {
	mux  media.Muxer
	path string

	stream        media.StreamInfo
	streamAdded   bool
	fileOpen      bool
	headerWritten bool
	finalized     bool
	freed         bool
}

// CreateOutput allocates a container for path. format may be empty to infer
// it from the path's extension.
func CreateOutput(factory media.MuxerFactory, path, format string) (*OutputSession, error) {
	mux, err := factory.Create(path, format)
	if err != nil {
		return nil, media.NewError(media.KindOutputContextAllocFailed, "create output "+path, err)
	}
	return &OutputSession{mux: mux, path: path}, nil
}

// Path returns the destination path.
func (s *OutputSession) Path() string { return s.path }

// AddAudioStream configures the encoder and attaches the output stream.
func (s *OutputSession) AddAudioStream(enc media.EncoderConfig) error {
	if s.streamAdded {
		return media.NewError(media.KindEncoderOpenFailed, "add audio stream", errors.New("stream already added"))
	}
	st, err := s.mux.AddAudioStream(enc)
	if err != nil {
		if errors.Is(err, media.ErrEncoderNotFound) {
			return media.NewError(media.KindEncoderUnavailable, "add audio stream "+enc.Codec, err)
		}
		return media.NewError(media.KindEncoderOpenFailed, "add audio stream "+enc.Codec, err)
	}
	s.stream = st
	s.streamAdded = true
	return nil
}

// OpenSink opens the byte sink if the container format needs one.
func (s *OutputSession) OpenSink() error {
	if s.fileOpen || !s.mux.NeedsFile() {
		return nil
	}
	if err := s.mux.OpenFile(); err != nil {
		return media.NewError(media.KindSinkOpenFailed, "open sink "+s.path, err)
	}
	s.fileOpen = true
	return nil
}

// WriteHeader writes the container header. It must be called exactly once,
// after [OutputSession.OpenSink]; a second call fails.
func (s *OutputSession) WriteHeader() error {
	if s.headerWritten {
		return media.NewError(media.KindHeaderWriteFailed, "write header", errors.New("header already written"))
	}
	if !s.streamAdded {
		return media.NewError(media.KindHeaderWriteFailed, "write header", errors.New("no output stream"))
	}
	if err := s.mux.WriteHeader(); err != nil {
		return media.NewError(media.KindHeaderWriteFailed, "write header", err)
	}
	s.headerWritten = true
	s.stream.TimeBase = s.mux.TimeBase(s.stream.Index)
	return nil
}

// Stream returns the output stream description. After the header is written
// its time base is the one the container settled on.
func (s *OutputSession) Stream() media.StreamInfo { return s.stream }

// TimeBase returns the output stream time base.
func (s *OutputSession) TimeBase() media.Rational { return s.stream.TimeBase }

// WritePacket writes p. Its timestamps must already be expressed in
// [OutputSession.TimeBase] and its stream index set to the output stream.
func (s *OutputSession) WritePacket(p *media.Packet) error {
	if !s.headerWritten || s.finalized {
		return media.NewError(media.KindPacketWriteFailed, "write packet", errHeaderNotWritten)
	}
	if err := s.mux.WritePacket(p); err != nil {
		return media.NewError(media.KindPacketWriteFailed, "write packet", err)
	}
	return nil
}

// Finalize writes the trailer and closes the byte sink. It runs at most once
// and is a no-op when the header was never written. The sink is closed even
// if the trailer write fails; both failures are joined.
func (s *OutputSession) Finalize() error {
	if !s.headerWritten || s.finalized {
		return nil
	}
	s.finalized = true

	var errs []error
	if err := s.mux.WriteTrailer(); err != nil {
		errs = append(errs, media.NewError(media.KindTrailerWriteFailed, "write trailer", err))
	}
	if err := s.closeSink(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *OutputSession) closeSink() error {
	if !s.fileOpen {
		return nil
	}
	s.fileOpen = false
	if err := s.mux.CloseFile(); err != nil {
		return media.NewError(media.KindSinkCloseFailed, "close sink "+s.path, err)
	}
	return nil
}

// Close releases the container. A sink left open by an aborted setup is
// closed first. Close is safe to call more than once.
func (s *OutputSession) Close() {
	if s.freed {
		return
	}
	if err := s.closeSink(); err != nil {
		slog.Warn("close output sink", "path", s.path, "err", err)
	}
	s.mux.Free()
	s.freed = true
}
