package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/0x1a0b/mockserver-sub001/pkg/certs"
	"github.com/0x1a0b/mockserver-sub001/pkg/cli/internal/output"
	"github.com/0x1a0b/mockserver-sub001/pkg/config"
)

// errCAExists is returned by ca generate when files exist and --force is unset.
var errCAExists = errors.New("CA files already exist (use --force to replace them)")

// caPaths is bound to the --cert and --key flags of the ca commands.
type caPaths struct {
	cert string
	key  string
}

func (p *caPaths) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.cert, "cert", os.Getenv(config.EnvCACert), "CA certificate PEM path")
	cmd.Flags().StringVar(&p.key, "key", os.Getenv(config.EnvCAKey), "CA private key PEM path")
}

func (p *caPaths) provider() (*certs.Provider, error) {
	if p.cert == "" || p.key == "" {
		return nil, errors.New("--cert and --key are required")
	}
	return certs.New(p.cert, p.key), nil
}

func newCACmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Manage the certificate authority used for TLS interception",
		Long: `Generate or inspect the CA that signs per-host certificates when clients
connect over TLS. Clients must trust this CA to talk to the server over HTTPS.`,
	}
	cmd.AddCommand(newCAGenerateCmd(g), newCAShowCmd(g))
	return cmd
}

func newCAGenerateCmd(g *globalOptions) *cobra.Command {
	var (
		paths caPaths
		force bool
	)
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Create a new CA certificate and key",
		Example: `  mockserver ca generate --cert ca.pem --key ca-key.pem`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := paths.provider()
			if err != nil {
				return err
			}
			if p.Exists() && !force {
				return errCAExists
			}
			if err := p.Generate(); err != nil {
				return err
			}
			return printCA(cmd, g, p, false)
		},
	}
	paths.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "Replace existing CA files")
	return cmd
}

func newCAShowCmd(g *globalOptions) *cobra.Command {
	var (
		paths   caPaths
		showPEM bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Describe an existing CA",
		Example: `  mockserver ca show --cert ca.pem --key ca-key.pem
  mockserver ca show --cert ca.pem --key ca-key.pem --pem > trust-me.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := paths.provider()
			if err != nil {
				return err
			}
			if err := p.Load(); err != nil {
				return err
			}
			return printCA(cmd, g, p, showPEM)
		},
	}
	paths.register(cmd)
	cmd.Flags().BoolVar(&showPEM, "pem", false, "Print only the certificate PEM")
	return cmd
}

func printCA(cmd *cobra.Command, g *globalOptions, p *certs.Provider, pemOnly bool) error {
	out := cmd.OutOrStdout()
	if pemOnly {
		data, err := p.CACertPEM()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	info, err := p.Info()
	if err != nil {
		return err
	}
	if g.jsonOutput {
		return output.JSON(out, struct {
			*certs.Info
			CertPath string `json:"certPath"`
			KeyPath  string `json:"keyPath"`
		}{info, p.CertPath(), p.KeyPath()})
	}
	tw := output.Table(out)
	fmt.Fprintf(tw, "Subject:\t%s\n", info.Subject)
	fmt.Fprintf(tw, "Organization:\t%s\n", info.Organization)
	fmt.Fprintf(tw, "Fingerprint:\t%s\n", info.Fingerprint)
	fmt.Fprintf(tw, "Expires:\t%s\n", info.NotAfter.Format(time.RFC3339))
	fmt.Fprintf(tw, "Certificate:\t%s\n", p.CertPath())
	fmt.Fprintf(tw, "Key:\t%s\n", p.KeyPath())
	return tw.Flush()
}
