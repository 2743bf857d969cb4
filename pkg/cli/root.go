package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/0x1a0b/mockserver-sub001/pkg/client"
)

// EnvAdminURL overrides the default control plane URL.
const EnvAdminURL = "MOCKSERVER_ADMIN_URL"

// DefaultAdminURL is used when neither --admin-url nor EnvAdminURL is set.
const DefaultAdminURL = "http://localhost:1080"

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	adminURL   string
	jsonOutput bool
	timeout    time.Duration
}

func (g *globalOptions) client() *client.Client {
	return client.New(g.adminURL, client.WithTimeout(g.timeout))
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "mockserver",
		Short: "mockserver is a programmable HTTP(S) mock server and proxy",
		Long: `mockserver answers requests from stored expectations, forwards or proxies the rest,
and records everything it sees for later retrieval and verification.

HTTP, HTTPS, SOCKS and binary traffic share the same ports.

Configuration can be provided via flags, MOCKSERVER_* environment variables,
or a configuration file (YAML, JSON or HCL).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.adminURL, "admin-url", resolveAdminURL(), "Control plane base URL")
	root.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "Output command results in JSON format")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", client.DefaultTimeout, "Control plane request timeout")

	root.AddCommand(
		newServeCmd(),
		newAddCmd(g),
		newClearCmd(g),
		newResetCmd(g),
		newRetrieveCmd(g),
		newVerifyCmd(g),
		newStatusCmd(g),
		newStopCmd(g),
		newCACmd(g),
		newVersionCmd(g),
	)
	return root
}

// Execute runs the command tree against os.Args. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, FormatConnectionError(err))
		os.Exit(1)
	}
}

func resolveAdminURL() string {
	if v := strings.TrimSpace(os.Getenv(EnvAdminURL)); v != "" {
		return v
	}
	return DefaultAdminURL
}

// FormatConnectionError returns a user-friendly error message for connection errors.
func FormatConnectionError(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == "connection_error" {
		return fmt.Sprintf(`Error: %s

Suggestions:
  • Start the server: mockserver serve
  • Check if the server is running on the expected port
  • Point the CLI at it with --admin-url or %s`, apiErr.Message, EnvAdminURL)
	}
	return "Error: " + err.Error()
}
