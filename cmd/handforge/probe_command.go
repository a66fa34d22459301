package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"handforge/internal/services/ffmpeg"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe FILE",
		Short: "Inspect a media file with ffprobe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			binary, err := ffmpeg.FindBinary(cfg.FFprobeBinary())
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			result, err := ffmpeg.Probe(cmd.Context(), binary, path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "duration: %.2fs\n", result.DurationSeconds)

			rows := make([][]string, 0, len(result.Streams))
			for _, stream := range result.Streams {
				detail := ""
				switch stream.CodecType {
				case "audio":
					detail = fmt.Sprintf("%dch %s Hz", stream.Channels, stream.SampleRate)
				case "video":
					detail = fmt.Sprintf("%dx%d", stream.Width, stream.Height)
				case "subtitle":
					detail = stream.Tags.Language
				}
				rows = append(rows, []string{
					strconv.Itoa(stream.Index),
					stream.CodecType,
					stream.CodecName,
					detail,
					stream.Tags.Title,
				})
			}
			if len(rows) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Stream", "Type", "Codec", "Detail", "Title"}, rows, 0))
			}
			return nil
		},
	}
}
