package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ovpnadmin/status"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Show sessions from the OpenVPN status file",
	Args:  cobra.NoArgs,
	RunE:  runConnections,
}

func init() {
	rootCmd.AddCommand(connectionsCmd)
	connectionsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

func runConnections(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap, err := status.ReadFile(cfg.Status.Path)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), snap)
	}

	w := cmd.OutOrStdout()
	if snap.UpdatedAt != "" {
		fmt.Fprintf(w, "Updated: %s\n\n", snap.UpdatedAt)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMON NAME\tREAL ADDRESS\tVIRTUAL ADDRESS\tRECEIVED\tSENT\tCONNECTED SINCE")
	for _, s := range snap.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.CommonName, s.RealAddress, s.VirtualAddress, s.BytesReceived, s.BytesSent, s.ConnectedSince)
	}
	return tw.Flush()
}
