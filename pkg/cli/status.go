package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the ports a running server listens on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := g.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			type statusResult struct {
				Status   string `json:"status"`
				AdminURL string `json:"adminUrl"`
				Ports    []int  `json:"ports"`
			}
			return report(cmd, g,
				statusResult{Status: "running", AdminURL: g.adminURL, Ports: ports},
				fmt.Sprintf("running at %s on %s", g.adminURL, describePorts(ports)))
		},
	}
}

func newStopCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running server to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().Stop(cmd.Context()); err != nil {
				return err
			}
			return report(cmd, g, map[string]bool{"stopped": true}, "Stopping")
		},
	}
}
