package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eghosaohenhen/mmrobot/internal/config"
	"github.com/eghosaohenhen/mmrobot/internal/dca1000"
)

var fpgaCmd = &cobra.Command{
	Use:   "fpga",
	Short: "Probe the capture card",
	Long: `Connect to the capture card over its command channel and read the FPGA
version. A quick health check that the card is powered, reachable, and
answering commands.

Examples:
  mmrobot fpga
  mmrobot fpga -c lab.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runFPGACommand()
	},
}

func runFPGACommand() {
	cfg := loadConfig()

	ctl, err := dca1000.DialControl(cfg.Card.LocalCmdAddr, cfg.Card.Addr,
		config.Duration(cfg.Card.CommandTimeout))
	if err != nil {
		exitWithError("failed to open command channel", err)
	}
	defer ctl.Close()

	ctx := context.Background()
	if err := ctl.SystemConnect(ctx); err != nil {
		exitWithError("card did not acknowledge connect", err)
	}
	ver, err := ctl.ReadFPGAVersion(ctx)
	if err != nil {
		exitWithError("failed to read FPGA version", err)
	}

	fmt.Printf("card %s: FPGA version %s\n", cfg.Card.Addr, ver)
}
