package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/audiocap/internal/config"
)

func newConfigCmd() *cobra.Command {
	var diffOnly bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return &exitError{code: exitSetup, err: err}
			}
			out := cmd.OutOrStdout()
			if diffOnly {
				for _, o := range config.Diff(config.Default(), cfg) {
					fmt.Fprintln(out, o)
				}
				return nil
			}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("config: encode yaml: %w", err)
			}
			_, err = out.Write(b)
			return err
		},
	}
	cmd.Flags().BoolVar(&diffOnly, "diff", false, "only list settings that differ from the defaults")
	return cmd
}

// loadConfig loads the file named by --config, or the defaults when it is
// empty, then applies any capture flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Lookup("device") == nil {
		return cfg, nil
	}
	if flags.Changed("device") {
		cfg.Input.Device, _ = flags.GetString("device")
	}
	if flags.Changed("input-format") {
		cfg.Input.Format, _ = flags.GetString("input-format")
	}
	if flags.Changed("output") {
		cfg.Output.Path, _ = flags.GetString("output")
	}
	if flags.Changed("duration") {
		cfg.Capture.Duration, _ = flags.GetDuration("duration")
	}
	if flags.Changed("listen") {
		cfg.Server.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("log-level") {
		lvl, _ := flags.GetString("log-level")
		cfg.Server.LogLevel = config.LogLevel(lvl)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
