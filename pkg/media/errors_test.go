package media_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/audiocap/pkg/media"
)

func TestError_IsKind(t *testing.T) {
	cause := errors.New("permission denied")
	err := fmt.Errorf("capture: %w", media.NewError(media.KindDeviceOpenFailed, "open input", cause))

	if !errors.Is(err, media.KindDeviceOpenFailed) {
		t.Error("errors.Is should match the error kind through wrapping")
	}
	if errors.Is(err, media.KindNoAudioStream) {
		t.Error("errors.Is matched an unrelated kind")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
	want := "capture: open input: device open failed: permission denied"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKind_Class(t *testing.T) {
	tests := []struct {
		kind media.Kind
		want media.Class
	}{
		{media.KindDeviceOpenFailed, media.ClassSetup},
		{media.KindStreamInfoUnavailable, media.ClassSetup},
		{media.KindNoAudioStream, media.ClassSetup},
		{media.KindOutputContextAllocFailed, media.ClassSetup},
		{media.KindEncoderUnavailable, media.ClassSetup},
		{media.KindEncoderOpenFailed, media.ClassSetup},
		{media.KindSinkOpenFailed, media.ClassSetup},
		{media.KindHeaderWriteFailed, media.ClassSetup},
		{media.KindPacketReadFailed, media.ClassTransient},
		{media.KindPacketWriteFailed, media.ClassTransient},
		{media.KindTrailerWriteFailed, media.ClassFinalize},
		{media.KindSinkCloseFailed, media.ClassFinalize},
	}
	for _, tc := range tests {
		t.Run(tc.kind.Error(), func(t *testing.T) {
			if got := tc.kind.Class(); got != tc.want {
				t.Errorf("Class() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	if _, ok := media.ClassOf(errors.New("plain")); ok {
		t.Error("ClassOf should not find a class in a plain error")
	}
	c, ok := media.ClassOf(fmt.Errorf("x: %w", media.NewError(media.KindSinkCloseFailed, "close sink", nil)))
	if !ok || c != media.ClassFinalize {
		t.Errorf("ClassOf = %s, %v; want finalize, true", c, ok)
	}
}

func TestHints_Options(t *testing.T) {
	opts := media.Hints{SampleRate: 44100, Channels: 2, SampleFormat: "s16", BufferSize: 1024}.Options()
	want := map[string]string{
		"sample_rate":       "44100",
		"channels":          "2",
		"sample_fmt":        "s16",
		"audio_buffer_size": "1024",
	}
	if len(opts) != len(want) {
		t.Fatalf("got %d options, want %d: %v", len(opts), len(want), opts)
	}
	for k, v := range want {
		if opts[k] != v {
			t.Errorf("option %q = %q, want %q", k, opts[k], v)
		}
	}

	if got := (media.Hints{}).Options(); len(got) != 0 {
		t.Errorf("zero hints should render no options, got %v", got)
	}
}

func TestPacket_ReleaseOnce(t *testing.T) {
	calls := 0
	p := media.NewPacket(func() { calls++ })
	p.Data = []byte{1, 2, 3}
	p.Release()
	p.Release()
	if calls != 1 {
		t.Errorf("release hook ran %d times, want 1", calls)
	}
	if p.Data != nil {
		t.Error("Release should drop the payload reference")
	}

	var nilPkt *media.Packet
	nilPkt.Release() // must not panic
}
