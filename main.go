// Package main is the entry point for the mmrobot radar capture agent.
package main

import (
	"fmt"
	"os"

	"github.com/eghosaohenhen/mmrobot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
