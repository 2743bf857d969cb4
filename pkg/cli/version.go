package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type versionInfo struct {
				Version   string `json:"version"`
				Commit    string `json:"commit"`
				BuildDate string `json:"buildDate"`
				GoVersion string `json:"goVersion"`
				Platform  string `json:"platform"`
			}
			info := versionInfo{
				Version:   Version,
				Commit:    Commit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return report(cmd, g, info, fmt.Sprintf("mockserver %s (commit: %s, built: %s, %s, %s)",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform))
		},
	}
}
