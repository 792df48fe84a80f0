// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eghosaohenhen/mmrobot/internal/config"
	"github.com/eghosaohenhen/mmrobot/internal/log"
	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mmrobot",
	Short: "mmrobot - Radar capture-card acquisition agent",
	Long: `mmrobot drives a DCA1000EVM-style capture card: it configures the card
over its UDP command channel, receives the raw LVDS sample stream as UDP
datagrams, reassembles complete radar frames, and hands them to one or more
sinks (binary file, Kafka, console).

Features:
  - Lossless frame reassembly with zero-fill accounting for dropped datagrams
  - Pluggable sinks: adc_data .bin + metadata.json, Kafka publisher, console
  - Offline replay: recover frames from a .pcap/.pcapng recording
  - Prometheus metrics for packets, frames and queue depth`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yml",
		"config file path")

	// Add subcommands
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(fpgaCmd)
	rootCmd.AddCommand(paramsCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// loadConfig loads the configuration file named by the global flag and
// initializes logging from it. Every subcommand starts here.
func loadConfig() *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError(fmt.Sprintf("failed to load config %s", configFile), err)
	}
	if err := log.Init(cfg.Log); err != nil {
		exitWithError("failed to initialize logging", err)
	}
	return cfg
}

// geometry converts the configured radar profile into the frame shape the
// pipeline works with.
func geometry(cfg *config.Config) capture.Geometry {
	return capture.Geometry{
		Samples:    cfg.Profile.Samples,
		Chirps:     cfg.Profile.Chirps,
		RxChannels: cfg.Profile.RxChannels,
		TxChannels: cfg.Profile.TxChannels,
	}
}

// framePeriod converts the configured period to a duration.
func framePeriod(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Profile.FramePeriodMs * float64(time.Millisecond))
}
