package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ovpnadmin/pki"
)

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Summarize the current certificate revocation list",
	Args:  cobra.NoArgs,
	RunE:  runCRL,
}

func init() {
	rootCmd.AddCommand(crlCmd)
	crlCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

func runCRL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.CRLSource()
	if path == "" {
		return fmt.Errorf("pki.crl_path (OVPN_CRL_OUT) or pki.work_dir (OVPN_WORKDIR) must be set")
	}
	info, err := pki.InspectCRL(path)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), info)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Issuer:       %s\n", info.Issuer)
	if info.Number != "" {
		fmt.Fprintf(w, "Number:       %s\n", info.Number)
	}
	fmt.Fprintf(w, "This update:  %s\n", info.ThisUpdate.Format(time.RFC3339))
	if !info.NextUpdate.IsZero() {
		fmt.Fprintf(w, "Next update:  %s\n", info.NextUpdate.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Revoked:      %d\n", info.RevokedCount)
	fmt.Fprintf(w, "SHA-256:      %s\n", info.SHA256)
	if info.Stale {
		fmt.Fprintln(w, "WARNING: the CRL is past its next update; clients may be rejected")
	}
	return nil
}
