package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "careerkit-gateway"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "CareerKit AI gateway: quota-metered CV parsing, analysis and cover letters",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTiersCmd(),
	)
	return rootCmd
}
