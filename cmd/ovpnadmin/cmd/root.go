package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ovpnadmin",
	Short: "ovpnadmin manages OpenVPN client identities",
	Long: `Issue and revoke OpenVPN client certificates through an Easy-RSA PKI,
download client bundles and inspect connected sessions.

Settings come from an optional YAML file (--config) and the environment
(UI_USER, UI_PASS, OVPN_SCRIPT, OVPN_OUT_DIR, OVPN_WORKDIR, ...).`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
}
