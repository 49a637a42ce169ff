package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authgate",
		Short:         "Session gate in front of a web application",
		Long:          "authgate redirects unauthenticated browser requests to the Cognito hosted UI login and serves the login, callback and logout routes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newMatchCmd(),
	)
	return cmd
}
