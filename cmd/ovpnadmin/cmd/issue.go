package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ovpnadmin/pki"
)

var issueCmd = &cobra.Command{
	Use:   "issue <identifier>",
	Short: "Issue a client bundle",
	Long: `Runs the issuance script (OVPN_SCRIPT) with the identifier as its only
argument and reports the newest bundle found in OVPN_OUT_DIR afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runIssue,
}

func init() {
	rootCmd.AddCommand(issueCmd)
	issueCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

type issueResult struct {
	Identifier string `json:"identifier"`
	Bundle     string `json:"bundle,omitempty"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
}

func runIssue(cmd *cobra.Command, args []string) error {
	id, err := pki.ParseIdentifier(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("%q: %w", args[0], err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.CheckIssuer(); err != nil {
		return err
	}
	c, err := newComponents(cfg, newLogger(cfg.Logging, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	res, err := c.issuer.Issue(cmd.Context(), id)
	if err != nil {
		printFailure(cmd.ErrOrStderr(), err)
		return fmt.Errorf("issuing %s: %w", id, err)
	}

	out := issueResult{
		Identifier: id.String(),
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMS: res.Duration.Milliseconds(),
	}
	out.Bundle, _ = c.bundles.Newest(id.String())

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), out)
	}
	w := cmd.OutOrStdout()
	fmt.Fprint(w, res.Stdout)
	if out.Bundle == "" {
		fmt.Fprintf(w, "Issued %s, but no bundle was found in %s\n", id, c.bundles.Root())
		return nil
	}
	fmt.Fprintf(w, "Issued %s: %s\n", id, out.Bundle)
	return nil
}
