package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Embedded zone database so TIMEZONE works in minimal containers.
	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pimbl",
		Short: "Files NYC 311 illegal-parking reports through the public portal",
		Long: `pimbl drives the NYC 311 portal in a headless browser to file
illegal-parking reports. "serve" exposes the HTTP API used by the mobile
client; "submit" files a single report from the command line.

Configuration is read from PIMBL_-prefixed environment variables and an
optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newSubmitCmd())
	return root
}
