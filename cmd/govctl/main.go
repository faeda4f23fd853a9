// Package main implements govctl, the operator CLI for the govd HTTP API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverURL string
		token     string
		operator  string
		timeout   = defaultTimeout
	)
	c := &client{}
	root := &cobra.Command{
		Use:   "govctl",
		Short: "Operate the govd governance daemon",
		Long: `govctl talks to the govd HTTP API. It inspects governance state, resolves
escalations, moves deployment phases and manages adapter versions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			*c = *newClient(serverURL, token, operator, timeout)
		},
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9470", "govd server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("GOVCTL_TOKEN"), "operator token for mutating requests (env GOVCTL_TOKEN)")
	root.PersistentFlags().StringVar(&operator, "operator", currentOperator(), "operator name recorded by govd")

	root.AddCommand(
		healthCmd(c),
		statusCmd(c),
		auditCmd(c),
		previewCmd(c),
		authorizationsCmd(c),
		reportCmd(c),
		checklistCmd(c),
		incidentsCmd(c),
		approvalsCmd(c),
		approveCmd(c),
		rejectCmd(c),
		phaseCmd(c),
		queryModeCmd(c),
		cycleCmd(c),
		recommendCmd(c),
		observeCmd(c),
		driftCmd(c),
		retrainCmd(c),
		versionsCmd(c),
		topCmd(c),
	)
	return root
}
