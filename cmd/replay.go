package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eghosaohenhen/mmrobot/internal/config"
	"github.com/eghosaohenhen/mmrobot/internal/replay"
	"github.com/eghosaohenhen/mmrobot/internal/sink"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Recover frames from a packet capture recording",
	Long: `Feed a .pcap or .pcapng recording of a capture session through the same
reassembly pipeline a live session uses and deliver the recovered frames to
the configured sinks.

The recording's timestamps drive the recovered metadata, so the output
matches what a live capture at recording time would have produced. Data
datagrams are selected by the destination port of card.local_data_addr.

Examples:
  mmrobot replay -f session.pcap
  mmrobot replay -f session.pcapng -c lab.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runReplayCommand()
	},
}

var replayFile string

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "",
		"packet capture recording to replay (required)")
	replayCmd.MarkFlagRequired("file")
}

func runReplayCommand() {
	cfg := loadConfig()

	snk, err := sink.Build(cfg.Sinks)
	if err != nil {
		exitWithError("failed to build sinks", err)
	}

	port, err := dataPort(cfg)
	if err != nil {
		exitWithError("failed to resolve data port", err)
	}

	rep, err := replay.New(replay.Config{
		Path:        replayFile,
		DataPort:    port,
		Geometry:    geometry(cfg),
		FramePeriod: framePeriod(cfg),
		MaxGap:      uint64(cfg.Capture.MaxGapMB) << 20,
	}, snk)
	if err != nil {
		exitWithError("failed to create replayer", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := rep.Run(ctx)

	report := rep.Report()
	fmt.Printf("recovered %d frames (%d degraded), %d bytes zero-filled, %d packets read\n",
		report.FramesCaptured,
		report.FramesDegraded,
		report.BytesLost,
		report.PacketsReceived,
	)
	if runErr != nil {
		exitWithError("replay failed", runErr)
	}
}

// dataPort extracts the UDP port data datagrams were addressed to.
func dataPort(cfg *config.Config) (int, error) {
	_, portStr, err := net.SplitHostPort(cfg.Card.LocalDataAddr)
	if err != nil {
		return 0, fmt.Errorf("card.local_data_addr %q: %w", cfg.Card.LocalDataAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("card.local_data_addr port %q: %w", portStr, err)
	}
	return port, nil
}
