package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ovpnadmin/pki"
)

var clientsCmd = &cobra.Command{
	Use:   "clients [identifier]",
	Short: "List issued bundles, newest first",
	Long: `Lists the bundles in OVPN_OUT_DIR. With an identifier only that
client's bundles are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClients,
}

func init() {
	rootCmd.AddCommand(clientsCmd)
	clientsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

func runClients(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.PKI.OutDir == "" {
		return fmt.Errorf("pki.out_dir (OVPN_OUT_DIR) is not set")
	}
	c, err := newComponents(cfg, newLogger(cfg.Logging, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	var names []string
	if len(args) == 1 {
		id, err := pki.ParseIdentifier(strings.TrimSpace(args[0]))
		if err != nil {
			return fmt.Errorf("%q: %w", args[0], err)
		}
		names = c.bundles.ListForOwner(id.String())
	} else {
		names = c.bundles.List()
	}
	if names == nil {
		names = []string{}
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), names)
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}
