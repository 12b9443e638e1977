// Command loginserver accepts game client connections, decodes their
// login protocol traffic and drives a per-connection state machine.
// It also serves an admin REST API, Prometheus metrics and optional MQTT
// telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/energizer-project/loginserver/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
  _                _
 | |    ___   __ _(_)_ __    ___  ___ _ ____   _____ _ __
 | |   / _ \ / _' | | '_ \  / __|/ _ \ '__\ \ / / _ \ '__|
 | |__| (_) | (_| | | | | | \__ \  __/ |   \ V /  __/ |
 |_____\___/ \__, |_|_| |_| |___/\___|_|    \_/ \___|_|
             |___/  v%s
`

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:           "loginserver",
		Short:         "Game login server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", config.DefaultConfigDir, "directory holding config.json")

	serve := serveCmd(&configDir)
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())

	rootCmd.AddCommand(
		serve,
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
