package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Serial link server for the outpost shooting gallery",
		Long: `Bridges the microcontroller board on a serial port to browser renderers.

The board streams ship spawns, shot results, crosshair and storm updates;
renderers receive state snapshots over a websocket and send player input.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		portsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
