package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/requestlog"
)

// errNoPattern is returned by verify without a pattern or file.
var errNoPattern = errors.New("a request pattern is required: use --path, --method or --file")

// verificationFile is either a verification or a verification sequence.
type verificationFile struct {
	HTTPRequest  *model.HTTPRequest            `json:"httpRequest"`
	Times        *requestlog.VerificationTimes `json:"times"`
	HTTPRequests []*model.HTTPRequest          `json:"httpRequests"`
}

func newVerifyCmd(g *globalOptions) *cobra.Command {
	var (
		atLeast int
		atMost  int
		exactly int
		file    string
		p       patternFlags
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that matching requests were received",
		Long: `Verify that requests matching a pattern were received a number of times, or,
with a file holding "httpRequests", that a sequence of requests arrived in order.

The command exits non-zero and prints the server's explanation when the
check fails.`,
		Example: `  # At least once
  mockserver verify --path /users -m POST

  # Exactly twice
  mockserver verify --path /users --exactly 2

  # Never
  mockserver verify --path /admin --at-most 0

  # From a file holding a verification or verification sequence
  mockserver verify --file checkout-flow.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			if file != "" {
				v, err := readVerification(file)
				if err != nil {
					return err
				}
				if len(v.HTTPRequests) > 0 {
					return reportVerified(cmd, g, c.VerifySequence(cmd.Context(), v.HTTPRequests...))
				}
				if v.HTTPRequest == nil {
					return fmt.Errorf("%s: %w", file, errNoPattern)
				}
				return reportVerified(cmd, g, c.Verify(cmd.Context(), v.HTTPRequest, v.Times))
			}

			pattern, err := p.build()
			if err != nil {
				return err
			}
			if pattern == nil {
				return errNoPattern
			}
			times := verifyTimes(cmd, atLeast, atMost, exactly)
			return reportVerified(cmd, g, c.Verify(cmd.Context(), pattern, times))
		},
	}
	cmd.Flags().IntVar(&atLeast, "at-least", 1, "Minimum number of matching requests")
	cmd.Flags().IntVar(&atMost, "at-most", 0, "Maximum number of matching requests")
	cmd.Flags().IntVar(&exactly, "exactly", 0, "Exact number of matching requests")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read a verification or verification sequence from a JSON file")
	cmd.MarkFlagsMutuallyExclusive("exactly", "at-least")
	cmd.MarkFlagsMutuallyExclusive("exactly", "at-most")
	p.register(cmd)
	return cmd
}

// verifyTimes builds bounds from the flags the user set. Nothing set means
// at least once.
func verifyTimes(cmd *cobra.Command, atLeast, atMost, exactly int) *requestlog.VerificationTimes {
	f := cmd.Flags()
	switch {
	case f.Changed("exactly"):
		return requestlog.Exactly(exactly)
	case f.Changed("at-least") && f.Changed("at-most"):
		return &requestlog.VerificationTimes{AtLeast: &atLeast, AtMost: &atMost}
	case f.Changed("at-most"):
		return requestlog.AtMost(atMost)
	case f.Changed("at-least"):
		return requestlog.AtLeast(atLeast)
	}
	return nil
}

func readVerification(path string) (*verificationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verification: %w", err)
	}
	var v verificationFile
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &v, nil
}

func reportVerified(cmd *cobra.Command, g *globalOptions, err error) error {
	if err != nil {
		return err
	}
	return report(cmd, g, map[string]bool{"verified": true}, "Verified")
}
