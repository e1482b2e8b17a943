package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"irisvault/internal/capture/device"
)

func newSynthCmd() *cobra.Command {
	var (
		seed          int64
		width, height int
		quality       int
		dx, dy        float64
		out           string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a synthetic iris frame as JPEG",
		Example: `  # Render the eye used by --seed 7 at kiosk resolution
  irisctl synth --seed 7 --out eye.jpg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			img := device.RenderIris(width, height, seed, dx, dy)
			data, err := device.EncodeFrame(img, width, height, quality)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			printf(cmd, "wrote %s (%dx%d, %d bytes)\n", out, width, height, len(data))
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 42, "eye seed")
	cmd.Flags().IntVar(&width, "width", 640, "frame width")
	cmd.Flags().IntVar(&height, "height", 480, "frame height")
	cmd.Flags().IntVar(&quality, "quality", 80, "JPEG quality")
	cmd.Flags().Float64Var(&dx, "dx", 0, "horizontal gaze offset in pixels")
	cmd.Flags().Float64Var(&dy, "dy", 0, "vertical gaze offset in pixels")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}
