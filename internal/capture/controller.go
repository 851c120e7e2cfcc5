// Package capture implements the live audio capture-and-remux pipeline.
//
// A [Controller] opens a live input through a [media.Opener], selects its
// first audio stream, configures a single-stream output container through a
// [media.MuxerFactory] and then copies encoded packets from input to output
// for a bounded wall-clock budget. Packet payloads are never decoded; only
// their timestamps are rescaled from the input to the output time base.
//
// The controller moves through the states
//
//	Initializing → Capturing → Finalizing → Done
//
// with the terminal state Failed reachable from Initializing (any setup
// error) and Finalizing (trailer or sink close error). Transient packet read
// and write errors are logged and counted but never end a run.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/audiocap/internal/observe"
	"github.com/MrWong99/audiocap/internal/resilience"
	"github.com/MrWong99/audiocap/pkg/media"
)

// Default tuning values applied by [New] to zero [Config] fields.
const (
	DefaultBudget       = 30 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
)

// State is the lifecycle state of a [Controller].
type State int32

const (
	StateInitializing State = iota
	StateCapturing
	StateFinalizing
	StateDone
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Config describes one capture run.
type Config struct {
	// Device is the input device URL passed to the opener, for example
	// "audio=Microphone (USB Audio)" for dshow or "default" for pulse.
	Device string

	// InputFormat names the input device format ("dshow", "alsa", ...).
	// Empty lets the opener choose.
	InputFormat string

	// Hints are advisory input format options.
	Hints media.Hints

	// OutputPath is the destination container file.
	OutputPath string

	// OutputFormat names the container format. Empty infers it from
	// OutputPath.
	OutputFormat string

	// Encoder configures the single output audio stream.
	Encoder media.EncoderConfig

	// Budget is the wall-clock capture duration. Default: 30s.
	Budget time.Duration

	// PollInterval is the pause after a read that produced no data.
	// Default: 10ms.
	PollInterval time.Duration

	// ReadBreaker tunes the circuit breaker around device reads. Name, Now
	// and OnStateChange are set by the controller.
	ReadBreaker resilience.CircuitBreakerConfig
}

// Report summarises a finished run.
type Report struct {
	RunID      string
	Device     string
	OutputPath string

	PacketsRead    int64
	PacketsWritten int64
	// PacketsDropped counts packets of unselected input streams.
	PacketsDropped int64
	ReadErrors     int64
	WriteErrors    int64
	PollWaits      int64
	BytesWritten   int64

	// Captured is the media duration of all written packets, measured in
	// the output time base.
	Captured time.Duration
	// Elapsed is the wall-clock time from setup start to the end of
	// finalization.
	Elapsed time.Duration

	State       State
	FinalizeErr error
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces the wall clock and the poll sleep. sleep must return
// early when ctx is done.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller runs a single capture. Create one with [New] and call
// [Controller.Run] once; [Controller.State] may be read from any goroutine.
type Controller struct {
	cfg     Config
	opener  media.Opener
	factory media.MuxerFactory

	metrics *observe.Metrics
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)

	state   atomic.Int32
	started atomic.Bool
}

// New returns a controller for cfg. Zero Budget and PollInterval take their
// defaults; a zero Encoder takes [media.DefaultEncoder].
func New(cfg Config, opener media.Opener, factory media.MuxerFactory, opts ...Option) *Controller {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Encoder == (media.EncoderConfig{}) {
		cfg.Encoder = media.DefaultEncoder
	}
	c := &Controller{
		cfg:     cfg,
		opener:  opener,
		factory: factory,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("capture state change", "from", prev.String(), "to", s.String())
	}
}

// Run executes the capture. It returns a report in every case; err is the
// setup error (class Setup) or the finalize error (class Finalize), or nil
// when the run reached Done. Cancelling ctx ends capturing early but the
// output is still finalized.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, errors.New("capture: run: controller already used")
	}

	runID := uuid.NewString()
	c.logger = c.logger.With("run_id", runID)
	rep := &Report{
		RunID:      runID,
		Device:     c.cfg.Device,
		OutputPath: c.cfg.OutputPath,
	}
	start := c.now()

	in, out, err := c.setup(ctx)
	if err != nil {
		c.setState(StateFailed)
		rep.State = StateFailed
		rep.Elapsed = c.now().Sub(start)
		c.metrics.RecordRun(ctx, StateFailed.String())
		c.logger.Error("capture setup failed", "err", err)
		return rep, fmt.Errorf("capture: setup: %w", err)
	}

	c.capture(ctx, in, out, rep)

	c.setState(StateFinalizing)
	ferr := out.Finalize()
	out.Close()
	if err := in.Close(); err != nil {
		c.logger.Warn("close input", "device", c.cfg.Device, "err", err)
	}
	rep.Elapsed = c.now().Sub(start)
	// Finalizing must not be skipped by a cancelled run context.
	mctx := context.WithoutCancel(ctx)
	c.metrics.PacketsDropped.Add(mctx, rep.PacketsDropped)

	if ferr != nil {
		c.setState(StateFailed)
		rep.State = StateFailed
		rep.FinalizeErr = ferr
		c.metrics.RecordRun(mctx, StateFailed.String())
		c.logger.Error("finalize output failed", "path", c.cfg.OutputPath, "err", ferr)
		return rep, fmt.Errorf("capture: finalize: %w", ferr)
	}

	c.setState(StateDone)
	rep.State = StateDone
	c.metrics.RecordRun(mctx, StateDone.String())
	c.logger.Info("capture finished",
		"path", c.cfg.OutputPath,
		"packets_written", rep.PacketsWritten,
		"write_errors", rep.WriteErrors,
		"read_errors", rep.ReadErrors,
		"captured", rep.Captured,
		"elapsed", rep.Elapsed,
	)
	return rep, nil
}

// setup acquires the input and output in order. On failure everything
// already acquired is released, output first, and the *media.Error of the
// failing step is returned. An output whose header was already written is
// finalized before it is released.
func (c *Controller) setup(ctx context.Context) (in *InputSession, out *OutputSession, err error) {
	defer func() {
		if err == nil {
			return
		}
		if out != nil {
			// A written header always gets its trailer.
			if ferr := out.Finalize(); ferr != nil {
				c.logger.Warn("finalize output after failed setup", "path", c.cfg.OutputPath, "err", ferr)
			}
			out.Close()
		}
		if in != nil {
			if cerr := in.Close(); cerr != nil {
				c.logger.Warn("close input after failed setup", "device", c.cfg.Device, "err", cerr)
			}
		}
		in, out = nil, nil
	}()

	err = observe.RunStage(ctx, c.metrics, "open_input", func(ctx context.Context) error {
		var err error
		in, err = OpenInput(ctx, c.opener, c.cfg.InputFormat, c.cfg.Device, c.cfg.Hints)
		return err
	})
	if err != nil {
		return
	}

	if _, err = in.SelectAudioStream(); err != nil {
		return
	}
	c.logger.Info("selected audio stream",
		"index", in.Stream().Index,
		"codec", in.Stream().Codec,
		"time_base", in.TimeBase().String(),
	)

	err = observe.RunStage(ctx, c.metrics, "open_output", func(context.Context) error {
		var err error
		if out, err = CreateOutput(c.factory, c.cfg.OutputPath, c.cfg.OutputFormat); err != nil {
			return err
		}
		if err = out.AddAudioStream(c.cfg.Encoder); err != nil {
			return err
		}
		return out.OpenSink()
	})
	if err != nil {
		return
	}

	err = observe.RunStage(ctx, c.metrics, "write_header", func(context.Context) error {
		return out.WriteHeader()
	})
	if err != nil {
		return
	}
	if !out.TimeBase().IsValid() {
		err = media.NewError(media.KindHeaderWriteFailed, "write header",
			fmt.Errorf("output stream has invalid time base %s", out.TimeBase()))
		return
	}
	c.logger.Info("output ready",
		"path", c.cfg.OutputPath,
		"codec", c.cfg.Encoder.Codec,
		"time_base", out.TimeBase().String(),
	)
	return in, out, nil
}

// capture runs the passthrough loop until the deadline passes or ctx is
// done.
func (c *Controller) capture(ctx context.Context, in *InputSession, out *OutputSession, rep *Report) {
	c.setState(StateCapturing)
	c.metrics.ActiveCaptures.Add(ctx, 1)
	defer c.metrics.ActiveCaptures.Add(context.WithoutCancel(ctx), -1)

	breakerCfg := c.cfg.ReadBreaker
	breakerCfg.Name = "device-read"
	breakerCfg.Now = c.now
	breakerCfg.OnStateChange = func(s resilience.State) {
		c.metrics.RecordBreakerTransition(ctx, s.String())
		c.logger.Warn("device read breaker", "state", s.String())
	}
	breaker := resilience.NewCircuitBreaker(breakerCfg)

	inTB, outTB := in.TimeBase(), out.TimeBase()
	outIndex := out.Stream().Index
	deadline := c.now().Add(c.cfg.Budget)

	c.logger.Info("capture started",
		"device", c.cfg.Device,
		"budget", c.cfg.Budget,
		"in_time_base", inTB.String(),
		"out_time_base", outTB.String(),
	)

	for {
		if ctx.Err() != nil {
			c.logger.Info("capture interrupted", "reason", context.Cause(ctx))
			break
		}
		if !c.now().Before(deadline) {
			break
		}

		var pkt *media.Packet
		err := breaker.Execute(func() error {
			p, err := in.ReadPacket(ctx)
			if errors.Is(err, media.ErrNoData) {
				return nil
			}
			if err != nil {
				return err
			}
			pkt = p
			return nil
		})
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.idle(ctx, rep)
			continue
		case err != nil:
			rep.ReadErrors++
			c.metrics.RecordPacketError(ctx, "read")
			c.logger.Warn("read packet", "err", err)
			continue
		case pkt == nil:
			c.idle(ctx, rep)
			continue
		}

		rep.PacketsRead++
		c.metrics.PacketsRead.Add(ctx, 1)
		c.forward(ctx, out, pkt, inTB, outTB, outIndex, rep)
	}

	rep.PacketsDropped = in.Discarded()
}

func (c *Controller) idle(ctx context.Context, rep *Report) {
	rep.PollWaits++
	c.metrics.PollWaits.Add(ctx, 1)
	c.sleep(ctx, c.cfg.PollInterval)
}

// forward rescales p into the output time base and writes it. p is released
// whether or not the write succeeds.
func (c *Controller) forward(ctx context.Context, out *OutputSession, p *media.Packet, inTB, outTB media.Rational, outIndex int, rep *Report) {
	defer p.Release()

	p.PTS = media.Rescale(p.PTS, inTB, outTB)
	p.DTS = media.Rescale(p.DTS, inTB, outTB)
	if p.Duration > 0 {
		p.Duration = media.Rescale(p.Duration, inTB, outTB)
	}
	p.Pos = -1
	p.StreamIndex = outIndex
	size := len(p.Data)

	start := time.Now()
	if err := out.WritePacket(p); err != nil {
		rep.WriteErrors++
		c.metrics.RecordPacketError(ctx, "write")
		c.logger.Warn("write packet", "pts", p.PTS, "err", err)
		return
	}

	var seconds float64
	if p.Duration > 0 && p.Duration != media.NoPTS {
		seconds = outTB.Seconds(p.Duration)
		rep.Captured += outTB.Duration(p.Duration)
	}
	rep.PacketsWritten++
	rep.BytesWritten += int64(size)
	c.metrics.RecordWrite(ctx, size, seconds, time.Since(start).Seconds())
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
