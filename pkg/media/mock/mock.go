// Package mock provides in-memory mock implementations of the [media.Opener],
// [media.Source], [media.MuxerFactory], and [media.Muxer] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and ordering, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    StreamsResult: []media.StreamInfo{{Index: 0, Type: media.MediaAudio, TimeBase: media.NewRational(1, 48000)}},
//	    Reads:         []mock.Read{{Packet: mock.AudioPacket(0, 0, 1024)}},
//	}
//	opener := &mock.Opener{Source: src}
//	mux := &mock.Muxer{NeedsFileResult: true}
//	factory := &mock.MuxerFactory{Muxer: mux}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/audiocap/pkg/media"
)

// ─── Opener ──────────────────────────────────────────────────────────────────

// Opener is a mock implementation of [media.Opener].
type Opener struct {
	mu sync.Mutex

	// Source is returned by Open when OpenErr is nil.
	Source *Source

	// OpenErr is returned by Open.
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// OpenCalls records the arguments of every Open call.
	OpenCalls []OpenCall
}

// OpenCall holds the arguments of one [Opener.Open] call.
type OpenCall struct {
	Format string
	Device string
	Hints  media.Hints
}

// Open implements [media.Opener].
func (o *Opener) Open(_ context.Context, format, device string, hints media.Hints) (media.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountOpen++
	o.OpenCalls = append(o.OpenCalls, OpenCall{Format: format, Device: device, Hints: hints})
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if o.Source == nil {
		o.Source = &Source{}
	}
	return o.Source, nil
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Read is one scripted result of [Source.ReadPacket]. Exactly one of Packet
// and Err should be set; both nil means [media.ErrNoData].
type Read struct {
	Packet *media.Packet
	Err    error
}

// Source is a mock implementation of [media.Source]. Reads are served in
// order; once the script is exhausted every read returns [media.ErrNoData].
type Source struct {
	mu sync.Mutex

	// ProbeErr is returned by Probe.
	ProbeErr error

	// StreamsResult is returned by Streams.
	StreamsResult []media.StreamInfo

	// Reads is the scripted sequence of ReadPacket results.
	Reads []Read

	// OnRead, if set, is called (without the lock held) before every
	// ReadPacket with the 1-based call number. Tests use it to advance a
	// fake clock.
	OnRead func(n int)

	// CloseErr is returned by Close.
	CloseErr error

	CallCountProbe      int
	CallCountStreams    int
	CallCountReadPacket int
	CallCountClose      int
}

// Probe implements [media.Source].
func (s *Source) Probe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountProbe++
	return s.ProbeErr
}

// Streams implements [media.Source].
func (s *Source) Streams() []media.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStreams++
	return s.StreamsResult
}

// ReadPacket implements [media.Source].
func (s *Source) ReadPacket(context.Context) (*media.Packet, error) {
	s.mu.Lock()
	s.CallCountReadPacket++
	n := s.CallCountReadPacket
	hook := s.OnRead
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Reads) == 0 {
		return nil, media.ErrNoData
	}
	r := s.Reads[0]
	s.Reads = s.Reads[1:]
	switch {
	case r.Err != nil:
		return nil, r.Err
	case r.Packet != nil:
		return r.Packet, nil
	default:
		return nil, media.ErrNoData
	}
}

// Close implements [media.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// ─── MuxerFactory ────────────────────────────────────────────────────────────

// MuxerFactory is a mock implementation of [media.MuxerFactory].
type MuxerFactory struct {
	mu sync.Mutex

	// Muxer is returned by Create when CreateErr is nil.
	Muxer *Muxer

	// CreateErr is returned by Create.
	CreateErr error

	CallCountCreate int

	// CreatePath and CreateFormat hold the arguments of the last Create call.
	CreatePath   string
	CreateFormat string
}

// Create implements [media.MuxerFactory].
func (f *MuxerFactory) Create(path, format string) (media.Muxer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CallCountCreate++
	f.CreatePath = path
	f.CreateFormat = format
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	if f.Muxer == nil {
		f.Muxer = &Muxer{}
	}
	return f.Muxer, nil
}

// ─── Muxer ───────────────────────────────────────────────────────────────────

// Written is a snapshot of a packet passed to [Muxer.WritePacket].
type Written struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	Pos         int64
	Size        int
}

// Muxer is a mock implementation of [media.Muxer].
type Muxer struct {
	mu sync.Mutex

	// AddAudioStreamErr is returned by AddAudioStream.
	AddAudioStreamErr error

	// StreamIndex is the index reported for the added stream.
	StreamIndex int

	// StreamTimeBase is the time base reported by AddAudioStream. When zero
	// it defaults to 1/SampleRate of the encoder config.
	StreamTimeBase media.Rational

	// HeaderTimeBase, when valid, replaces the stream time base once the
	// header has been written (as real containers may do).
	HeaderTimeBase media.Rational

	// NeedsFileResult is returned by NeedsFile.
	NeedsFileResult bool

	OpenFileErr    error
	WriteHeaderErr error

	// WritePacketErrs maps a 1-based WritePacket call number to the error
	// that call returns.
	WritePacketErrs map[int]error

	WriteTrailerErr error
	CloseFileErr    error

	// Encoder records the config passed to AddAudioStream.
	Encoder media.EncoderConfig

	// Packets records every packet that was written successfully.
	Packets []Written

	// Calls records the name of every method call in order.
	Calls []string

	CallCountAddAudioStream int
	CallCountOpenFile       int
	CallCountWriteHeader    int
	CallCountWritePacket    int
	CallCountWriteTrailer   int
	CallCountCloseFile      int
	CallCountFree           int

	headerWritten bool
}

// AddAudioStream implements [media.Muxer].
func (m *Muxer) AddAudioStream(enc media.EncoderConfig) (media.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountAddAudioStream++
	m.Calls = append(m.Calls, "AddAudioStream")
	m.Encoder = enc
	if m.AddAudioStreamErr != nil {
		return media.StreamInfo{}, m.AddAudioStreamErr
	}
	return media.StreamInfo{
		Index:    m.StreamIndex,
		Type:     media.MediaAudio,
		TimeBase: m.streamTimeBase(),
		Codec:    enc.Codec,
	}, nil
}

func (m *Muxer) streamTimeBase() media.Rational {
	if m.headerWritten && m.HeaderTimeBase.IsValid() {
		return m.HeaderTimeBase
	}
	if m.StreamTimeBase.IsValid() {
		return m.StreamTimeBase
	}
	if m.Encoder.SampleRate > 0 {
		return media.NewRational(1, m.Encoder.SampleRate)
	}
	return media.Rational{}
}

// NeedsFile implements [media.Muxer].
func (m *Muxer) NeedsFile() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NeedsFileResult
}

// OpenFile implements [media.Muxer].
func (m *Muxer) OpenFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOpenFile++
	m.Calls = append(m.Calls, "OpenFile")
	return m.OpenFileErr
}

// WriteHeader implements [media.Muxer].
func (m *Muxer) WriteHeader() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountWriteHeader++
	m.Calls = append(m.Calls, "WriteHeader")
	if m.WriteHeaderErr != nil {
		return m.WriteHeaderErr
	}
	m.headerWritten = true
	return nil
}

// TimeBase implements [media.Muxer].
func (m *Muxer) TimeBase(index int) media.Rational {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index != m.StreamIndex {
		return media.Rational{}
	}
	return m.streamTimeBase()
}

// WritePacket implements [media.Muxer].
func (m *Muxer) WritePacket(p *media.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountWritePacket++
	m.Calls = append(m.Calls, "WritePacket")
	if !m.headerWritten {
		return fmt.Errorf("mock: write packet before header")
	}
	if err := m.WritePacketErrs[m.CallCountWritePacket]; err != nil {
		return err
	}
	m.Packets = append(m.Packets, Written{
		StreamIndex: p.StreamIndex,
		PTS:         p.PTS,
		DTS:         p.DTS,
		Duration:    p.Duration,
		Pos:         p.Pos,
		Size:        len(p.Data),
	})
	return nil
}

// WriteTrailer implements [media.Muxer].
func (m *Muxer) WriteTrailer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountWriteTrailer++
	m.Calls = append(m.Calls, "WriteTrailer")
	return m.WriteTrailerErr
}

// CloseFile implements [media.Muxer].
func (m *Muxer) CloseFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountCloseFile++
	m.Calls = append(m.Calls, "CloseFile")
	return m.CloseFileErr
}

// Free implements [media.Muxer].
func (m *Muxer) Free() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountFree++
	m.Calls = append(m.Calls, "Free")
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// ReleaseCounter counts packet releases across many packets.
type ReleaseCounter struct {
	mu sync.Mutex
	n  int
}

// Count returns the number of releases observed so far.
func (c *ReleaseCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Packet returns a packet for stream index with the given pts and duration
// whose release is counted by c. DTS equals PTS and the payload is
// 4 bytes per unit of duration (16-bit stereo).
func (c *ReleaseCounter) Packet(index int, pts, duration int64) *media.Packet {
	p := media.NewPacket(func() {
		c.mu.Lock()
		c.n++
		c.mu.Unlock()
	})
	p.StreamIndex = index
	p.PTS = pts
	p.DTS = pts
	p.Duration = duration
	p.Pos = pts * 4
	p.Data = make([]byte, duration*4)
	return p
}

// AudioPacket is [ReleaseCounter.Packet] without release accounting.
func AudioPacket(index int, pts, duration int64) *media.Packet {
	var c ReleaseCounter
	return c.Packet(index, pts, duration)
}
