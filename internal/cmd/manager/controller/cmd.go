package controller

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/simplyblock-io/vela-controlplane/internal/configuration"
)

// NewCmd create a new cobra command
func NewCmd() *cobra.Command {
	var metricsAddr string
	var leaderElectionEnable bool
	var leaderLeaseDuration int
	var leaderRenewDeadline int

	cmd := cobra.Command{
		Use:           "controller [flags]",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("metrics-bind-address") {
				configuration.Current.MetricsBindAddress = metricsAddr
			}
			return RunController(leaderElectionConfiguration{
				enable:        leaderElectionEnable,
				leaseDuration: time.Duration(leaderLeaseDuration) * time.Second,
				renewDeadline: time.Duration(leaderRenewDeadline) * time.Second,
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", configuration.Current.MetricsBindAddress,
		"The address the metric endpoint binds to.")

	cmd.Flags().BoolVar(&leaderElectionEnable, "leader-elect", configuration.Current.LeaderElection,
		"Enable leader election for controller manager. "+
			"If enabled, this will ensure there is only one active controller manager.")
	cmd.Flags().IntVar(&leaderLeaseDuration, "leader-lease-duration", 15,
		"the leader lease duration expressed in seconds")
	cmd.Flags().IntVar(&leaderRenewDeadline, "leader-renew-deadline", 10,
		"the leader renew deadline expressed in seconds")

	return &cmd
}
