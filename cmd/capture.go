package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eghosaohenhen/mmrobot/internal/config"
	"github.com/eghosaohenhen/mmrobot/internal/dca1000"
	"github.com/eghosaohenhen/mmrobot/internal/metrics"
	"github.com/eghosaohenhen/mmrobot/internal/session"
	"github.com/eghosaohenhen/mmrobot/internal/sink"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a capture session",
	Long: `Configure the capture card, arm it, and record radar frames until the
configured frame count is reached or the process is interrupted.

Frames go to the sinks listed in the config file. Ctrl-C stops the card and
drains frames already received before closing the sinks.

Examples:
  mmrobot capture                     # capture per config.yml in the working directory
  mmrobot capture -c lab.yml          # capture per lab.yml
  mmrobot capture -n 4000             # override the configured frame count
  mmrobot capture -n 0                # capture until interrupted`,
	Run: func(cmd *cobra.Command, args []string) {
		runCaptureCommand(cmd)
	},
}

var captureFrames int

func init() {
	captureCmd.Flags().IntVarP(&captureFrames, "frames", "n", 0,
		"frames to capture, 0 for until interrupted (overrides config)")
}

func runCaptureCommand(cmd *cobra.Command) {
	cfg := loadConfig()
	if cmd.Flags().Changed("frames") {
		cfg.Profile.FrameCount = captureFrames
	}

	snk, err := sink.Build(cfg.Sinks)
	if err != nil {
		exitWithError("failed to build sinks", err)
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		srv.Start()
		defer srv.Stop(context.Background())
	}

	sess, err := session.New(sessionConfig(cfg), snk)
	if err != nil {
		exitWithError("failed to create session", err)
	}

	// Ctrl-C / SIGTERM stops the card and drains, a second signal kills the
	// process the usual way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := sess.Run(ctx)

	report := sess.Report()
	fmt.Printf("session %s: %d frames captured (%d degraded), %d bytes zero-filled, %d packets received\n",
		report.SessionID,
		report.FramesCaptured,
		report.FramesDegraded,
		report.BytesLost,
		report.PacketsReceived,
	)
	if runErr != nil {
		exitWithError("capture failed", runErr)
	}
}

// sessionConfig resolves the static configuration into the session's inputs.
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		CardAddr:      cfg.Card.Addr,
		LocalCmdAddr:  cfg.Card.LocalCmdAddr,
		LocalDataAddr: cfg.Card.LocalDataAddr,

		CommandTimeout:  config.Duration(cfg.Card.CommandTimeout),
		CommandAttempts: cfg.Card.CommandAttempts,

		FPGA: dca1000.FPGAConfig{
			Lanes:      cfg.Card.LVDSLanes,
			SampleBits: cfg.Card.SampleBits,
			Timer:      config.Duration(cfg.Card.CaptureTimer),
		},
		Packet: dca1000.PacketConfig{
			PacketSize: cfg.Card.PacketSize,
			Delay:      time.Duration(cfg.Card.PacketDelayUs) * time.Microsecond,
		},

		Geometry:    geometry(cfg),
		FramePeriod: framePeriod(cfg),
		Frames:      cfg.Profile.FrameCount,

		ReadBuffer:  cfg.Capture.ReadBufferMB << 20,
		QueueFrames: cfg.Capture.QueueFrames,
		MaxGap:      uint64(cfg.Capture.MaxGapMB) << 20,
	}
}
