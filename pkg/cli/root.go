// Package cli implements the aclmeterd command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aclmeterd",
	Short: "aclmeterd is the access-control and metering core of the robotics MQTT broker",
	Long: `aclmeterd embeds an MQTT broker and decides ALLOW or DENY for every
publish, subscribe, and read against the /{org}/{device}/{scope}/{name}
topic namespace. It verifies permission-token JWTs for websocket clients,
meters read bandwidth per organization and capability, enforces monthly
quotas subject to billing state, and throttles runaway publishers through
the "limit" packet-filter set.

Configuration comes from ACL_* environment variables, optionally overlaid
with a YAML options file (--config or ACL_CONFIG_FILE).`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
