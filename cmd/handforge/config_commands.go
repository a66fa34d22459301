package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"handforge/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config file: %s\n\n", ctx.configPath)
			rows := [][]string{
				{"paths.state_dir", cfg.Paths.StateDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"paths.output_dir", cfg.Paths.OutputDir},
				{"conversion.max_parallel", fmt.Sprintf("%d", cfg.Conversion.MaxParallel)},
				{"conversion.threads_per_job", fmt.Sprintf("%d", cfg.Conversion.ThreadsPerJob)},
				{"conversion.on_exists", cfg.Conversion.OnExists},
				{"conversion.default_format", cfg.Conversion.DefaultFormat},
				{"conversion.default_mode", cfg.Conversion.DefaultMode},
				{"conversion.default_bitrate", fmt.Sprintf("%d", cfg.Conversion.DefaultBitrate)},
				{"conversion.codec_caps", fmt.Sprintf("%v", cfg.Conversion.CodecCaps)},
				{"progress.ewma_alpha", fmt.Sprintf("%.2f", cfg.Progress.EWMAAlpha)},
				{"retry.auto_enabled", fmt.Sprintf("%t", cfg.Retry.AutoEnabled)},
				{"retry.max_attempts", fmt.Sprintf("%d", cfg.Retry.MaxAttempts)},
				{"workflow.stop_grace_seconds", fmt.Sprintf("%d", cfg.Workflow.StopGraceSeconds)},
				{"watch.enabled", fmt.Sprintf("%t", cfg.Watch.Enabled)},
				{"watch.dir", cfg.Watch.Dir},
				{"logging.format", cfg.Logging.Format},
				{"logging.level", cfg.Logging.Level},
			}
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, rows))
			return nil
		},
	}
}
