package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0x1a0b/mockserver-sub001/pkg/cli/internal/output"
	"github.com/0x1a0b/mockserver-sub001/pkg/client"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/persistence"
)

func newAddCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add [file...]",
		Short: "Create or update expectations from JSON or YAML files",
		Long: `Send expectations to a running server. Each file holds one expectation or a
list of them. With no file, or "-", the expectations are read from stdin as JSON.

An expectation with an id that is already stored replaces it in place.`,
		Example: `  mockserver add expectations.json
  mockserver add api/*.yaml
  cat expectation.json | mockserver add`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"-"}
			}
			c := g.client()
			var stored []*model.Expectation
			for _, path := range args {
				exps, err := upsertFile(cmd, c, path)
				if err != nil {
					return err
				}
				stored = append(stored, exps...)
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				return output.JSON(out, stored)
			}
			fmt.Fprintf(out, "Added %d expectation%s\n", len(stored), plural(len(stored)))
			tw := output.Table(out)
			fmt.Fprintln(tw, "ID\tMETHOD\tPATH")
			for _, exp := range stored {
				method, path := "*", "*"
				if exp.HTTPRequest != nil {
					method = orAny(exp.HTTPRequest.Method.String())
					path = orAny(exp.HTTPRequest.Path.String())
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", exp.ID, method, path)
			}
			return tw.Flush()
		},
	}
}

func upsertFile(cmd *cobra.Command, c *client.Client, path string) ([]*model.Expectation, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		exps, err := persistence.Decode(path, data)
		if err != nil {
			return nil, err
		}
		return c.Upsert(cmd.Context(), exps...)
	}
	return c.UpsertJSON(cmd.Context(), data)
}

func newClearCmd(g *globalOptions) *cobra.Command {
	var (
		typ string
		id  string
		p   patternFlags
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove expectations and/or recorded requests",
		Long: `Remove expectations and log entries selected by a request pattern. Without a
pattern everything of the chosen type is removed.`,
		Example: `  # Remove everything about /users
  mockserver clear --path /users

  # Keep expectations, drop the recorded requests
  mockserver clear --type log

  # Remove one expectation
  mockserver clear --id 2c4f5e0a-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			if id != "" {
				if err := c.ClearByID(cmd.Context(), id); err != nil {
					return err
				}
				return report(cmd, g, map[string]string{"cleared": id}, "Cleared expectation "+id)
			}
			pattern, err := p.build()
			if err != nil {
				return err
			}
			if err := c.Clear(cmd.Context(), pattern, client.ClearType(typ)); err != nil {
				return err
			}
			return report(cmd, g, map[string]string{"cleared": typ}, "Cleared "+typ)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(client.ClearAll), "What to clear: all, log, expectations")
	cmd.Flags().StringVar(&id, "id", "", "Remove the expectation with this id")
	p.register(cmd)
	return cmd
}

func newResetCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove every expectation and log entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().Reset(cmd.Context()); err != nil {
				return err
			}
			return report(cmd, g, map[string]bool{"reset": true}, "Reset")
		},
	}
}

// report prints v as JSON with --json and msg otherwise.
func report(cmd *cobra.Command, g *globalOptions, v interface{}, msg string) error {
	if g.jsonOutput {
		return output.JSON(cmd.OutOrStdout(), v)
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func orAny(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
