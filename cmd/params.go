package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Validate config and print derived capture parameters",
	Long: `Load and validate the configuration, then print the frame geometry and the
values derived from it: frame size in bytes, datagrams per frame, and the
expected data rate on the wire.

Useful as a pre-flight check that the configured profile matches what the
radar was programmed with.

Examples:
  mmrobot params
  mmrobot params -c lab.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runParamsCommand()
	},
}

func runParamsCommand() {
	cfg := loadConfig()

	geo := geometry(cfg)
	frameBytes := geo.FrameBytes()
	period := framePeriod(cfg)
	datagrams := (frameBytes + cfg.Card.PacketSize - 1) / cfg.Card.PacketSize

	fmt.Printf("profile:      %d samples x %d chirps x %d RX x %d TX\n",
		geo.Samples, geo.Chirps, geo.RxChannels, geo.TxChannels)
	fmt.Printf("frame size:   %d bytes (%d datagrams of %d bytes)\n",
		frameBytes, datagrams, cfg.Card.PacketSize)

	if period > 0 {
		fmt.Printf("frame period: %s\n", period)
		fmt.Printf("data rate:    %.1f MB/s\n",
			float64(frameBytes)/period.Seconds()/(1<<20))
	}

	if cfg.Profile.FrameCount > 0 {
		total := time.Duration(cfg.Profile.FrameCount) * period
		if total > 0 {
			fmt.Printf("frames:       %d (%s total)\n", cfg.Profile.FrameCount, total)
		} else {
			fmt.Printf("frames:       %d\n", cfg.Profile.FrameCount)
		}
	} else {
		fmt.Printf("frames:       until interrupted\n")
	}
}
