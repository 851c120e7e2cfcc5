package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/audiocap/internal/archive"
	"github.com/MrWong99/audiocap/internal/capture"
	"github.com/MrWong99/audiocap/internal/config"
	"github.com/MrWong99/audiocap/internal/health"
	"github.com/MrWong99/audiocap/internal/observe"
	"github.com/MrWong99/audiocap/pkg/media/ffmpeg"
)

const (
	shutdownTimeout = 15 * time.Second
	archiveTimeout  = 5 * time.Minute
)

func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record the configured device into the output file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return &exitError{code: exitSetup, err: err}
			}
			return runCapture(cmd.Context(), cmd, cfg)
		},
	}
	f := cmd.Flags()
	f.String("device", "", "capture device URL, e.g. \"audio=Stereo Mix (Realtek(R) Audio)\"")
	f.String("input-format", "", "libavdevice input format (dshow, pulse, alsa, avfoundation)")
	f.StringP("output", "o", "", "output file path")
	f.DurationP("duration", "d", 0, "capture budget, e.g. 30s")
	f.String("listen", "", "address serving /metrics, /healthz and /readyz during the run")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

func runCapture(parent context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	for _, o := range config.Diff(config.Default(), cfg) {
		slog.Debug("config override", "setting", o.String())
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return &exitError{code: exitSetup, err: err}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := prov.Shutdown(sctx); err != nil {
			slog.Warn("observe shutdown", "err", err)
		}
	}()

	ctrl := capture.New(cfg.CaptureRun(), ffmpeg.NewOpener(), ffmpeg.NewMuxerFactory(),
		capture.WithMetrics(observe.DefaultMetrics()),
		capture.WithLogger(logger),
	)

	var ln net.Listener
	if cfg.Server.ListenAddr != "" {
		ln, err = net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return &exitError{code: exitSetup, err: fmt.Errorf("listen %s: %w", cfg.Server.ListenAddr, err)}
		}
	}

	startedAt := time.Now()
	rep, runErr := serveWhileCapturing(ctx, ln, prov, ctrl)
	if runErr != nil {
		return &exitError{code: exitCodeFor(runErr), err: runErr}
	}

	return completeRun(ctx, cmd.OutOrStdout(), cfg, rep, startedAt)
}

// archiveFn uploads a finished capture. Tests replace it.
var archiveFn = archiveOutput

// completeRun reports a successful capture and archives it when configured.
// The local file is kept when the upload fails.
func completeRun(ctx context.Context, w io.Writer, cfg *config.Config, rep *capture.Report, startedAt time.Time) error {
	fmt.Fprintf(w, "Audio capture complete - saved to %s\n", cfg.Output.Path)

	if !cfg.Archive.Enabled() {
		return nil
	}
	if err := archiveFn(ctx, cfg.Archive, rep.RunID, cfg.Output.Path, startedAt); err != nil {
		slog.Error("archive upload failed; local capture kept", "path", cfg.Output.Path, "err", err)
		return &exitError{code: exitArchive, err: fmt.Errorf("archive: %w", err)}
	}
	return nil
}

// serveWhileCapturing runs the controller and, when ln is non-nil, the
// operational HTTP server next to it. The server is shut down once the
// capture returns.
func serveWhileCapturing(ctx context.Context, ln net.Listener, prov *observe.Provider, ctrl *capture.Controller) (*capture.Report, error) {
	if ln == nil {
		return ctrl.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", prov.MetricsHandler())
	health.New(ctrl).Register(mux)

	srv := &http.Server{
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var (
		rep    *capture.Report
		runErr error
	)
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		slog.Info("operational endpoints listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rep, runErr = ctrl.Run(ctx)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Warn("operational endpoints stopped", "err", err)
	}
	return rep, runErr
}

// archiveOutput uploads the finished file and removes the local copy when
// configured. Cancellation of ctx does not abort the upload.
func archiveOutput(ctx context.Context, cfg config.ArchiveConfig, runID, path string, at time.Time) error {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	up, err := archive.NewFromConfig(actx, cfg)
	if err != nil {
		return err
	}
	key, err := up.Upload(actx, runID, path, at)
	if err != nil {
		return err
	}
	if cfg.RemoveLocal {
		if err := os.Remove(path); err != nil {
			slog.Warn("remove local capture", "path", path, "err", err)
		} else {
			slog.Info("removed local capture", "path", path, "key", key)
		}
	}
	return nil
}
