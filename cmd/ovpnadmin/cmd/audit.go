package cmd

import "github.com/spf13/cobra"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit journal tools",
	Long:  `Commands for verifying exported operator journals.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
