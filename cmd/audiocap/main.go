// Command audiocap records a live audio device into a container file.
//
// Usage:
//
//	audiocap capture [--config audiocap.yaml] [--device ...] [--output out.wav] [--duration 30s]
//	audiocap config  [--config audiocap.yaml] [--diff]
//	audiocap version
//
// Exit codes:
//
//	0  the capture finished and, if configured, was archived
//	1  configuration or setup failure
//	2  the output could not be finalized
//	3  the capture finished but the archive upload failed; the local file is kept
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/audiocap/internal/config"
	"github.com/MrWong99/audiocap/pkg/media"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK       = 0
	exitSetup    = 1
	exitFinalize = 2
	exitArchive  = 3
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "audiocap: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitSetup
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "audiocap",
		Short:         "Capture a live audio device into a container file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to the YAML configuration file (defaults apply when empty)")

	root.AddCommand(newCaptureCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "audiocap %s\n", version)
		},
	}
}

// exitCodeFor maps a capture error to the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if class, ok := media.ClassOf(err); ok && class == media.ClassFinalize {
		return exitFinalize
	}
	return exitSetup
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
