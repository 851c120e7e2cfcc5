package media

import "sync"

// Packet is one unit of encoded media plus its timing metadata. All timestamps
// are expressed in the time base of the stream identified by StreamIndex.
//
// A Packet handed out by a [Source] must be released exactly when the consumer
// is done with it; [Packet.Release] is idempotent so deferred releases are
// safe.
type Packet struct {
	// StreamIndex identifies the owning stream within its container.
	StreamIndex int

	// PTS is the presentation timestamp, or [NoPTS].
	PTS int64

	// DTS is the decode timestamp, or [NoPTS].
	DTS int64

	// Duration of the packet in stream time base units; 0 if unknown.
	Duration int64

	// Pos is the byte position in the source container, -1 if unknown.
	Pos int64

	// Data is the encoded payload. It is never modified by the pipeline.
	Data []byte

	releaseOnce sync.Once
	release     func()
}

// NewPacket returns a Packet whose Release runs release exactly once.
// release may be nil.
func NewPacket(release func()) *Packet {
	return &Packet{PTS: NoPTS, DTS: NoPTS, Pos: -1, release: release}
}

// Release drops the packet's reference to its underlying buffer.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	p.releaseOnce.Do(func() {
		if p.release != nil {
			p.release()
		}
		p.Data = nil
	})
}
