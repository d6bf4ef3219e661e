package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ovpnadmin/pki"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <identifier>",
	Short: "Revoke a client certificate and regenerate the CRL",
	Long: `Runs "easyrsa revoke", then "easyrsa gen-crl", then copies the CRL to
OVPN_CRL_DEPLOY when it is set. The command fails unless every step
succeeded; the report names the step that stopped the pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

func init() {
	rootCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

type revokeResult struct {
	Identifier      string       `json:"identifier"`
	Complete        bool         `json:"complete"`
	Revoked         bool         `json:"revoked"`
	CRLRegenerated  bool         `json:"crl_regenerated"`
	CRLDeployed     bool         `json:"crl_deployed"`
	DeployAttempted bool         `json:"deploy_attempted"`
	FailedStep      string       `json:"failed_step,omitempty"`
	Error           string       `json:"error,omitempty"`
	CRL             *pki.CRLInfo `json:"crl,omitempty"`
}

func newRevokeResult(out pki.Outcome) revokeResult {
	r := revokeResult{
		Identifier:      out.Identifier.String(),
		Complete:        out.Complete(),
		Revoked:         out.Revoked,
		CRLRegenerated:  out.CRLRegenerated,
		CRLDeployed:     out.CRLDeployed,
		DeployAttempted: out.DeployAttempted,
		FailedStep:      string(out.FailedStep),
		CRL:             out.CRL,
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	return r
}

func runRevoke(cmd *cobra.Command, args []string) error {
	id, err := pki.ParseIdentifier(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("%q: %w", args[0], err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.CheckPipeline(); err != nil {
		return err
	}
	c, err := newComponents(cfg, newLogger(cfg.Logging, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	out := c.pipeline.Revoke(cmd.Context(), id)
	result := newRevokeResult(out)

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printRevokeSteps(cmd, result, c.pipeline.DeployConfigured())
	}

	if !out.Complete() {
		printFailure(cmd.ErrOrStderr(), out.Err)
		return out.AsError()
	}
	return nil
}

func printRevokeSteps(cmd *cobra.Command, r revokeResult, deploy bool) {
	w := cmd.OutOrStdout()
	step := func(name string, done bool) {
		tag := "[ OK ]"
		switch {
		case !done && r.FailedStep == name:
			tag = "[FAIL]"
		case !done:
			tag = "[SKIP]"
		}
		fmt.Fprintf(w, "%s %s\n", tag, name)
	}
	step(string(pki.StepRevoke), r.Revoked)
	step(string(pki.StepRegenCRL), r.CRLRegenerated)
	if deploy {
		step(string(pki.StepDeployCRL), r.CRLDeployed)
	}
	if r.CRL != nil {
		fmt.Fprintf(w, "CRL: %d revoked, next update %s\n", r.CRL.RevokedCount, r.CRL.NextUpdate.Format("2006-01-02 15:04:05Z07:00"))
	}
	if r.Complete {
		fmt.Fprintf(w, "Revoked %s\n", r.Identifier)
	} else if r.Revoked {
		fmt.Fprintf(w, "WARNING: %s is revoked but the pipeline stopped at %s; the VPN may still accept it\n", r.Identifier, r.FailedStep)
	}
}
