package media

import (
	"errors"
	"fmt"
)

// ErrNoData is returned by [Source.ReadPacket] when no packet is currently
// available. It is not a failure; callers should back off and retry.
var ErrNoData = errors.New("media: no data available")

// ErrEncoderNotFound is returned by [Muxer.AddAudioStream] when the requested
// encoder is not compiled into the underlying library.
var ErrEncoderNotFound = errors.New("media: encoder not found")

// Class groups error kinds by how the capture loop reacts to them.
type Class int

const (
	// ClassSetup errors abort the run before any packet is captured.
	ClassSetup Class = iota

	// ClassTransient errors affect a single packet; the loop continues.
	ClassTransient

	// ClassFinalize errors occur while closing the output after capture.
	ClassFinalize
)

// String returns the human-readable name of the class.
func (c Class) String() string {
	switch c {
	case ClassSetup:
		return "setup"
	case ClassTransient:
		return "transient"
	case ClassFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// Kind tags an [Error] with the operation that failed. A Kind is itself an
// error so callers can match with errors.Is(err, media.KindNoAudioStream).
type Kind int

const (
	KindDeviceOpenFailed Kind = iota + 1
	KindStreamInfoUnavailable
	KindNoAudioStream
	KindOutputContextAllocFailed
	KindEncoderUnavailable
	KindEncoderOpenFailed
	KindSinkOpenFailed
	KindHeaderWriteFailed
	KindPacketReadFailed
	KindPacketWriteFailed
	KindTrailerWriteFailed
	KindSinkCloseFailed
)

var kindNames = map[Kind]string{
	KindDeviceOpenFailed:         "device open failed",
	KindStreamInfoUnavailable:    "stream info unavailable",
	KindNoAudioStream:            "no audio stream",
	KindOutputContextAllocFailed: "output context alloc failed",
	KindEncoderUnavailable:       "encoder unavailable",
	KindEncoderOpenFailed:        "encoder open failed",
	KindSinkOpenFailed:           "sink open failed",
	KindHeaderWriteFailed:        "header write failed",
	KindPacketReadFailed:         "packet read failed",
	KindPacketWriteFailed:        "packet write failed",
	KindTrailerWriteFailed:       "trailer write failed",
	KindSinkCloseFailed:          "sink close failed",
}

// Error implements the error interface.
func (k Kind) Error() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("media error kind %d", int(k))
}

// Class returns the class the kind belongs to.
func (k Kind) Class() Class {
	switch k {
	case KindPacketReadFailed, KindPacketWriteFailed:
		return ClassTransient
	case KindTrailerWriteFailed, KindSinkCloseFailed:
		return ClassFinalize
	default:
		return ClassSetup
	}
}

// Error is the tagged error returned by the capture sessions.
type Error struct {
	Kind Kind
	// Op names the operation, e.g. "open input" or "write header".
	Op  string
	Err error
}

// NewError returns an *Error of the given kind wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches e against its Kind so errors.Is(err, KindX) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// ClassOf returns the class of the first *Error in err's chain and whether one
// was found.
func ClassOf(err error) (Class, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind.Class(), true
	}
	return 0, false
}
