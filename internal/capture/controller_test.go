package capture_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/audiocap/internal/capture"
	"github.com/MrWong99/audiocap/internal/observe"
	"github.com/MrWong99/audiocap/internal/resilience"
	"github.com/MrWong99/audiocap/pkg/media"
	"github.com/MrWong99/audiocap/pkg/media/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// fakeClock is a manually advanced clock. Sleep advances it instantly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) { c.Advance(d) }

type fixture struct {
	clock    *fakeClock
	src      *mock.Source
	opener   *mock.Opener
	mux      *mock.Muxer
	factory  *mock.MuxerFactory
	releases *mock.ReleaseCounter
	metrics  *observe.Metrics
	reader   *sdkmetric.ManualReader
}

// newFixture returns a single-stream 48 kHz input and a file-backed output
// muxer whose stream time base defaults to 1/44100.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	src := &mock.Source{
		StreamsResult: []media.StreamInfo{
			{Index: 0, Type: media.MediaAudio, TimeBase: media.NewRational(1, 48000), Codec: "pcm_s16le"},
		},
	}
	mux := &mock.Muxer{NeedsFileResult: true}
	return &fixture{
		clock:    newFakeClock(),
		src:      src,
		opener:   &mock.Opener{Source: src},
		mux:      mux,
		factory:  &mock.MuxerFactory{Muxer: mux},
		releases: &mock.ReleaseCounter{},
		metrics:  m,
		reader:   reader,
	}
}

func (f *fixture) controller(mutate ...func(*capture.Config)) *capture.Controller {
	cfg := capture.Config{
		Device:       "audio=Test Microphone",
		InputFormat:  "dshow",
		OutputPath:   "output.wav",
		Budget:       time.Second,
		PollInterval: 10 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return capture.New(cfg, f.opener, f.factory,
		capture.WithClock(f.clock.Now, f.clock.Sleep),
		capture.WithMetrics(f.metrics),
		capture.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// audio returns n scripted reads of 1024-sample packets on stream index,
// starting at sample offset first*1024.
func (f *fixture) audio(index, first, n int) []mock.Read {
	reads := make([]mock.Read, 0, n)
	for i := range n {
		reads = append(reads, mock.Read{Packet: f.releases.Packet(index, int64(first+i)*1024, 1024)})
	}
	return reads
}

func stalls(n int) []mock.Read { return make([]mock.Read, n) }

func sumWithAttr(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				if key == "" {
					total += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(observe.Attr(key, value).Key); ok && v.AsString() == value {
					total += dp.Value
				}
			}
			return total
		}
	}
	return 0
}

// ─── happy path ──────────────────────────────────────────────────────────────

func TestRun_HappyPath48kTo44k1(t *testing.T) {
	f := newFixture(t)
	f.src.Reads = f.audio(0, 0, 10)
	ctrl := f.controller()

	if got := ctrl.State(); got != capture.StateInitializing {
		t.Fatalf("initial state = %v, want initializing", got)
	}

	rep, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.State != capture.StateDone || ctrl.State() != capture.StateDone {
		t.Errorf("state = %v/%v, want done", rep.State, ctrl.State())
	}
	if rep.RunID == "" {
		t.Error("report has no run ID")
	}
	if rep.PacketsRead != 10 || rep.PacketsWritten != 10 {
		t.Errorf("read/written = %d/%d, want 10/10", rep.PacketsRead, rep.PacketsWritten)
	}
	if rep.BytesWritten != 10*4096 {
		t.Errorf("bytes written = %d, want %d", rep.BytesWritten, 10*4096)
	}
	if got := f.releases.Count(); got != 10 {
		t.Errorf("released %d packets, want 10", got)
	}

	if len(f.mux.Packets) != 10 {
		t.Fatalf("muxer got %d packets, want 10", len(f.mux.Packets))
	}
	wantPTS := []int64{0, 941, 1882, 2822, 3763}
	for i, want := range wantPTS {
		p := f.mux.Packets[i]
		if p.PTS != want || p.DTS != want {
			t.Errorf("packet %d pts/dts = %d/%d, want %d", i, p.PTS, p.DTS, want)
		}
	}
	for i, p := range f.mux.Packets {
		if p.Duration != 941 {
			t.Errorf("packet %d duration = %d, want 941", i, p.Duration)
		}
		if p.Pos != -1 {
			t.Errorf("packet %d pos = %d, want -1", i, p.Pos)
		}
		if p.StreamIndex != f.mux.StreamIndex {
			t.Errorf("packet %d stream index = %d, want %d", i, p.StreamIndex, f.mux.StreamIndex)
		}
		if i > 0 && p.PTS < f.mux.Packets[i-1].PTS {
			t.Errorf("packet %d pts %d goes backwards from %d", i, p.PTS, f.mux.Packets[i-1].PTS)
		}
	}

	wantCaptured := 10 * media.NewRational(1, 44100).Duration(941)
	if rep.Captured != wantCaptured {
		t.Errorf("captured = %v, want %v", rep.Captured, wantCaptured)
	}
	if rep.Elapsed != time.Second {
		t.Errorf("elapsed = %v, want 1s", rep.Elapsed)
	}

	if f.factory.CreatePath != "output.wav" {
		t.Errorf("create path = %q, want output.wav", f.factory.CreatePath)
	}
	if f.mux.Encoder != media.DefaultEncoder {
		t.Errorf("encoder = %+v, want default %+v", f.mux.Encoder, media.DefaultEncoder)
	}
	if len(f.opener.OpenCalls) != 1 || f.opener.OpenCalls[0].Format != "dshow" {
		t.Errorf("open calls = %+v, want one dshow open", f.opener.OpenCalls)
	}
	if got := sumWithAttr(t, f.reader, "audiocap.runs", "status", "done"); got != 1 {
		t.Errorf("done runs = %d, want 1", got)
	}
}

func TestRun_CallOrder(t *testing.T) {
	f := newFixture(t)
	f.src.Reads = f.audio(0, 0, 2)

	if _, err := f.controller().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"AddAudioStream", "OpenFile", "WriteHeader", "WritePacket", "WritePacket", "WriteTrailer", "CloseFile", "Free"}
	if !slices.Equal(f.mux.Calls, want) {
		t.Errorf("muxer calls = %v, want %v", f.mux.Calls, want)
	}
	if f.src.CallCountClose != 1 {
		t.Errorf("source closed %d times, want 1", f.src.CallCountClose)
	}
}

func TestRun_ExactlyOneHeaderAndTrailer(t *testing.T) {
	f := newFixture(t)
	f.src.Reads = f.audio(0, 0, 50)

	if _, err := f.controller().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.mux.CallCountWriteHeader != 1 {
		t.Errorf("WriteHeader calls = %d, want 1", f.mux.CallCountWriteHeader)
	}
	if f.mux.CallCountWriteTrailer != 1 {
		t.Errorf("WriteTrailer calls = %d, want 1", f.mux.CallCountWriteTrailer)
	}
	if f.mux.CallCountCloseFile != 1 || f.mux.CallCountFree != 1 {
		t.Errorf("CloseFile/Free = %d/%d, want 1/1", f.mux.CallCountCloseFile, f.mux.CallCountFree)
	}
}

func TestRun_UsesTimeBaseSettledByHeader(t *testing.T) {
	f := newFixture(t)
	f.mux.HeaderTimeBase = media.NewRational(1, 1000)
	f.src.Reads = f.audio(0, 0, 3)

	if _, err := f.controller().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 1024/48000 s is 21.333 ms.
	want := []int64{0, 21, 43}
	for i, p := range f.mux.Packets {
		if p.PTS != want[i] {
			t.Errorf("packet %d pts = %d, want %d", i, p.PTS, want[i])
		}
	}
}

func TestRun_NoPTSPropagates(t *testing.T) {
	f := newFixture(t)
	p := f.releases.Packet(0, 0, 1024)
	p.PTS = media.NoPTS
	p.DTS = media.NoPTS
	f.src.Reads = []mock.Read{{Packet: p}}

	if _, err := f.controller().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.mux.Packets) != 1 {
		t.Fatalf("muxer got %d packets, want 1", len(f.mux.Packets))
	}
	if got := f.mux.Packets[0]; got.PTS != media.NoPTS || got.DTS != media.NoPTS {
		t.Errorf("pts/dts = %d/%d, want NoPTS", got.PTS, got.DTS)
	}
}

// ─── stalls and transient errors ─────────────────────────────────────────────

func TestRun_NoDataStallKeepsPolling(t *testing.T) {
	f := newFixture(t)
	// 5 packets, a 500 ms stall (50 polls of 10 ms), 5 more packets.
	f.src.Reads = slices.Concat(f.audio(0, 0, 5), stalls(50), f.audio(0, 5, 5))

	rep, err := f.controller().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.PacketsWritten != 10 {
		t.Errorf("packets written = %d, want 10", rep.PacketsWritten)
	}
	// The 1 s budget is spent entirely in 10 ms polls.
	if rep.PollWaits != 100 {
		t.Errorf("poll waits = %d, want 100", rep.PollWaits)
	}
	if got := f.src.CallCountReadPacket; got != 110 {
		t.Errorf("read calls = %d, want 110", got)
	}
	if rep.ReadErrors != 0 || rep.WriteErrors != 0 {
		t.Errorf("read/write errors = %d/%d, want 0/0", rep.ReadErrors, rep.WriteErrors)
	}
	if got := f.mux.Packets[5].PTS; got != 4704 {
		t.Errorf("first packet after stall pts = %d, want 4704", got)
	}
	if f.mux.CallCountWriteHeader != 1 || f.mux.CallCountWriteTrailer != 1 {
		t.Errorf("header/trailer = %d/%d, want 1/1", f.mux.CallCountWriteHeader, f.mux.CallCountWriteTrailer)
	}
}

func TestRun_FifthWriteFails(t *testing.T) {
	f := newFixture(t)
	f.src.Reads = f.audio(0, 0, 10)
	f.mux.WritePacketErrs = map[int]error{5: errors.New("disk hiccup")}

	rep, err := f.controller().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.State != capture.StateDone {
		t.Errorf("state = %v, want done", rep.State)
	}
	if rep.WriteErrors != 1 {
		t.Errorf("write errors = %d, want 1", rep.WriteErrors)
	}
	if rep.PacketsRead != 10 || rep.PacketsWritten != 9 {
		t.Errorf("read/written = %d/%d, want 10/9", rep.PacketsRead, rep.PacketsWritten)
	}
	if got := f.releases.Count(); got != 10 {
		t.Errorf("released %d packets, want 10", got)
	}
	if f.mux.CallCountWritePacket != 10 {
		t.Errorf("write attempts = %d, want 10", f.mux.CallCountWritePacket)
	}
	var pts []int64
	for _, p := range f.mux.Packets {
		pts = append(pts, p.PTS)
	}
	if slices.Contains(pts, 3763) {
		t.Error("failed 5th packet (pts 3763) was recorded as written")
	}
	if !slices.Contains(pts, 4704) {
		t.Error("6th packet (pts 4704) was not written")
	}
	if got := sumWithAttr(t, f.reader, "audiocap.packet.errors", "op", "write"); got != 1 {
		t.Errorf("write error metric = %d, want 1", got)
	}
}

func TestRun_ReadErrorsDoNotStopLoop(t *testing.T) {
	f := newFixture(t)
	f.src.Reads = slices.Concat(
		f.audio(0, 0, 2),
		[]mock.Read{{Err: errors.New("device glitch")}},
		f.audio(0, 2, 2),
	)

	rep, err := f.controller().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ReadErrors != 1 || rep.PacketsWritten != 4 {
		t.Errorf("read errors/written = %d/%d, want 1/4", rep.ReadErrors, rep.PacketsWritten)
	}
	if got := sumWithAttr(t, f.reader, "audiocap.packet.errors", "op", "read"); got != 1 {
		t.Errorf("read error metric = %d, want 1", got)
	}
}

func TestRun_ReadBreakerBacksOff(t *testing.T) {
	f := newFixture(t)
	failures := make([]mock.Read, 5)
	for i := range failures {
		failures[i] = mock.Read{Err: fmt.Errorf("device unplugged (%d)", i+1)}
	}
	f.src.Reads = slices.Concat(failures, f.audio(0, 0, 3))

	rep, err := f.controller(func(c *capture.Config) {
		c.ReadBreaker = resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 100 * time.Millisecond}
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.ReadErrors != 5 {
		t.Errorf("read errors = %d, want 5", rep.ReadErrors)
	}
	if rep.PacketsWritten != 3 {
		t.Errorf("packets written = %d, want 3", rep.PacketsWritten)
	}
	if rep.PollWaits != 100 {
		t.Errorf("poll waits = %d, want 100", rep.PollWaits)
	}
	// Three open intervals of 100 ms skip the device entirely.
	if got := f.src.CallCountReadPacket; got != 78 {
		t.Errorf("read calls = %d, want 78", got)
	}

	transitions := []struct {
		state string
		want  int64
	}{
		{"open", 3},
		{"half-open", 3},
		{"closed", 1},
	}
	for _, tc := range transitions {
		if got := sumWithAttr(t, f.reader, "audiocap.breaker.transitions", "state", tc.state); got != tc.want {
			t.Errorf("%s transitions = %d, want %d", tc.state, got, tc.want)
		}
	}
}

func TestRun_DiscardsForeignStreams(t *testing.T) {
	f := newFixture(t)
	f.src.StreamsResult = []media.StreamInfo{
		{Index: 0, Type: media.MediaVideo, TimeBase: media.NewRational(1, 30)},
		{Index: 1, Type: media.MediaAudio, TimeBase: media.NewRational(1, 48000)},
	}
	f.src.Reads = slices.Concat(f.audio(0, 0, 1), f.audio(1, 0, 1), f.audio(0, 1, 1), f.audio(1, 1, 1))

	rep, err := f.controller().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.PacketsWritten != 2 {
		t.Errorf("packets written = %d, want 2", rep.PacketsWritten)
	}
	if rep.PacketsDropped != 2 {
		t.Errorf("packets dropped = %d, want 2", rep.PacketsDropped)
	}
	if got := f.releases.Count(); got != 4 {
		t.Errorf("released %d packets, want 4", got)
	}
}

func TestRun_CancelFinalizesOutput(t *testing.T) {
	f := newFixture(t)
	f.src.Reads = f.audio(0, 0, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ctrl *capture.Controller
	var stateDuringRead capture.State
	f.src.OnRead = func(n int) {
		if n == 1 {
			stateDuringRead = ctrl.State()
		}
		if n == 3 {
			cancel()
		}
	}
	ctrl = f.controller()

	rep, err := ctrl.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stateDuringRead != capture.StateCapturing {
		t.Errorf("state during read = %v, want capturing", stateDuringRead)
	}
	if rep.State != capture.StateDone {
		t.Errorf("state = %v, want done", rep.State)
	}
	if rep.PacketsWritten != 3 {
		t.Errorf("packets written = %d, want 3", rep.PacketsWritten)
	}
	if f.mux.CallCountWriteTrailer != 1 || f.mux.CallCountCloseFile != 1 {
		t.Errorf("trailer/close = %d/%d, want 1/1", f.mux.CallCountWriteTrailer, f.mux.CallCountCloseFile)
	}
}

func TestRun_SecondRunRejected(t *testing.T) {
	f := newFixture(t)
	ctrl := f.controller()
	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := ctrl.Run(context.Background()); err == nil {
		t.Error("second Run succeeded, want error")
	}
	if f.opener.CallCountOpen != 1 {
		t.Errorf("open calls = %d, want 1", f.opener.CallCountOpen)
	}
}

// ─── setup failures ──────────────────────────────────────────────────────────

func TestRun_SetupFailureReleasesResources(t *testing.T) {
	tests := []struct {
		name   string
		inject func(f *fixture)
		config func(*capture.Config)
		kind   media.Kind

		wantSourceClose int
		wantCreate      int
		wantFree        int
		wantCloseFile   int
		wantTrailer     int
	}{
		{
			name:   "device open",
			inject: func(f *fixture) { f.opener.OpenErr = errors.New("no such device") },
			kind:   media.KindDeviceOpenFailed,
		},
		{
			name:            "stream probe",
			inject:          func(f *fixture) { f.src.ProbeErr = errors.New("probe timeout") },
			kind:            media.KindStreamInfoUnavailable,
			wantSourceClose: 1,
		},
		{
			name: "no audio stream",
			inject: func(f *fixture) {
				f.src.StreamsResult = []media.StreamInfo{{Index: 0, Type: media.MediaVideo, TimeBase: media.NewRational(1, 30)}}
			},
			kind:            media.KindNoAudioStream,
			wantSourceClose: 1,
		},
		{
			name:            "output context",
			inject:          func(f *fixture) { f.factory.CreateErr = errors.New("unknown format") },
			kind:            media.KindOutputContextAllocFailed,
			wantSourceClose: 1,
			wantCreate:      1,
		},
		{
			name: "encoder missing",
			inject: func(f *fixture) {
				f.mux.AddAudioStreamErr = fmt.Errorf("pcm_s16le: %w", media.ErrEncoderNotFound)
			},
			kind:            media.KindEncoderUnavailable,
			wantSourceClose: 1,
			wantCreate:      1,
			wantFree:        1,
		},
		{
			name:            "encoder open",
			inject:          func(f *fixture) { f.mux.AddAudioStreamErr = errors.New("invalid sample format") },
			kind:            media.KindEncoderOpenFailed,
			wantSourceClose: 1,
			wantCreate:      1,
			wantFree:        1,
		},
		{
			name:            "sink open",
			inject:          func(f *fixture) { f.mux.OpenFileErr = errors.New("permission denied") },
			kind:            media.KindSinkOpenFailed,
			wantSourceClose: 1,
			wantCreate:      1,
			wantFree:        1,
		},
		{
			name:            "header write",
			inject:          func(f *fixture) { f.mux.WriteHeaderErr = errors.New("disk full") },
			kind:            media.KindHeaderWriteFailed,
			wantSourceClose: 1,
			wantCreate:      1,
			wantFree:        1,
			wantCloseFile:   1,
		},
		{
			name:   "invalid time base after header",
			inject: func(*fixture) {},
			config: func(c *capture.Config) {
				c.Encoder = media.EncoderConfig{Codec: "pcm_s16le", Channels: 2}
			},
			kind:            media.KindHeaderWriteFailed,
			wantSourceClose: 1,
			wantCreate:      1,
			wantFree:        1,
			wantCloseFile:   1,
			wantTrailer:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.src.Reads = f.audio(0, 0, 3)
			tt.inject(f)
			var mutate []func(*capture.Config)
			if tt.config != nil {
				mutate = append(mutate, tt.config)
			}
			ctrl := f.controller(mutate...)

			rep, err := ctrl.Run(context.Background())
			if err == nil {
				t.Fatal("Run succeeded, want setup error")
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("error = %v, want kind %v", err, tt.kind)
			}
			if class, ok := media.ClassOf(err); !ok || class != media.ClassSetup {
				t.Errorf("class = %v (ok=%v), want setup", class, ok)
			}
			if rep == nil || rep.State != capture.StateFailed || ctrl.State() != capture.StateFailed {
				t.Errorf("state = %v, want failed", ctrl.State())
			}

			if f.src.CallCountClose != tt.wantSourceClose {
				t.Errorf("source closes = %d, want %d", f.src.CallCountClose, tt.wantSourceClose)
			}
			if f.factory.CallCountCreate != tt.wantCreate {
				t.Errorf("create calls = %d, want %d", f.factory.CallCountCreate, tt.wantCreate)
			}
			if f.mux.CallCountFree != tt.wantFree {
				t.Errorf("free calls = %d, want %d", f.mux.CallCountFree, tt.wantFree)
			}
			if f.mux.CallCountCloseFile != tt.wantCloseFile {
				t.Errorf("close file calls = %d, want %d", f.mux.CallCountCloseFile, tt.wantCloseFile)
			}
			if f.mux.CallCountWriteTrailer != tt.wantTrailer {
				t.Errorf("trailer written %d times, want %d", f.mux.CallCountWriteTrailer, tt.wantTrailer)
			}
			if f.src.CallCountReadPacket != 0 {
				t.Errorf("read %d packets after setup failure", f.src.CallCountReadPacket)
			}
			if got := sumWithAttr(t, f.reader, "audiocap.runs", "status", "failed"); got != 1 {
				t.Errorf("failed runs = %d, want 1", got)
			}
		})
	}
}

// ─── finalize failures ───────────────────────────────────────────────────────

func TestRun_FinalizeFailure(t *testing.T) {
	tests := []struct {
		name   string
		inject func(m *mock.Muxer)
		kind   media.Kind
	}{
		{"trailer", func(m *mock.Muxer) { m.WriteTrailerErr = errors.New("io error") }, media.KindTrailerWriteFailed},
		{"sink close", func(m *mock.Muxer) { m.CloseFileErr = errors.New("flush failed") }, media.KindSinkCloseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.src.Reads = f.audio(0, 0, 3)
			tt.inject(f.mux)
			ctrl := f.controller()

			rep, err := ctrl.Run(context.Background())
			if !errors.Is(err, tt.kind) {
				t.Fatalf("error = %v, want kind %v", err, tt.kind)
			}
			if class, _ := media.ClassOf(err); class != media.ClassFinalize {
				t.Errorf("class = %v, want finalize", class)
			}
			if rep.State != capture.StateFailed || ctrl.State() != capture.StateFailed {
				t.Errorf("state = %v, want failed", rep.State)
			}
			if rep.FinalizeErr == nil {
				t.Error("report has no finalize error")
			}
			if rep.PacketsWritten != 3 {
				t.Errorf("packets written = %d, want 3", rep.PacketsWritten)
			}
			if f.mux.CallCountCloseFile != 1 || f.mux.CallCountFree != 1 {
				t.Errorf("CloseFile/Free = %d/%d, want 1/1", f.mux.CallCountCloseFile, f.mux.CallCountFree)
			}
			if f.src.CallCountClose != 1 {
				t.Errorf("source closes = %d, want 1", f.src.CallCountClose)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    capture.State
		want string
	}{
		{capture.StateInitializing, "initializing"},
		{capture.StateCapturing, "capturing"},
		{capture.StateFinalizing, "finalizing"},
		{capture.StateDone, "done"},
		{capture.StateFailed, "failed"},
		{capture.State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
	if !capture.StateDone.Terminal() || !capture.StateFailed.Terminal() || capture.StateCapturing.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
