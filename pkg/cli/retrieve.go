package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0x1a0b/mockserver-sub001/pkg/cli/internal/output"
	"github.com/0x1a0b/mockserver-sub001/pkg/client"
)

func newRetrieveCmd(g *globalOptions) *cobra.Command {
	var (
		typ    string
		format string
		p      patternFlags
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Show recorded requests, expectations or log messages",
		Long: `Retrieve state from a running server, optionally narrowed by a request pattern.

Types:
  requests               requests received
  request_responses      requests paired with the responses sent
  active_expectations    expectations that can still match
  recorded_expectations  expectations built from forwarded traffic
  logs                   log messages (text, or entries with --format log_entries)`,
		Example: `  mockserver retrieve
  mockserver retrieve --type active_expectations
  mockserver retrieve --type request_responses --path /users -m POST
  mockserver retrieve --type logs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, err := p.build()
			if err != nil {
				return err
			}
			raw, err := g.client().Retrieve(cmd.Context(), client.RetrieveType(typ), format, pattern)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if client.RetrieveType(typ) == client.RetrieveLogs && format != client.FormatLogEntries {
				_, err := fmt.Fprint(out, string(raw))
				return err
			}
			return output.RawJSON(out, raw)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(client.RetrieveRequests), "What to retrieve")
	cmd.Flags().StringVar(&format, "format", client.FormatJSON, "Response format: json, log_entries")
	p.register(cmd)
	return cmd
}
