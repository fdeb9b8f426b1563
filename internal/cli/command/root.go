package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rxcheckpoint/internal/cli/config"
	"github.com/yndnr/rxcheckpoint/internal/cli/connection"
	"github.com/yndnr/rxcheckpoint/internal/cli/output"
	"github.com/yndnr/rxcheckpoint/internal/infra/buildinfo"
)

const metaConfig = "cliConfig"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "rxcheckpoint-cli",
		Usage:   "Manage rxcheckpoint servers and checkpoint stores",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ServerCommand(),
			EntityCommand(),
			StoreCommand(),
			KeygenCommand(),
			TokenCommand(),
			ConfigCommand(),
		},
		Before: loadCLIConfig,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"RXCKPT_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "Profile from the CLI configuration (default: current profile)",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server address (e.g., http://127.0.0.1:7080)",
			EnvVars: []string{"RXCKPT_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Admin bearer token",
			EnvVars: []string{"RXCKPT_TOKEN"},
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "CA bundle that verifies the server certificate",
		},
		&cli.StringFlag{
			Name:  "cert-file",
			Usage: "Client certificate for mutual TLS",
		},
		&cli.StringFlag{
			Name:  "key-file",
			Usage: "Client key for mutual TLS",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
			Action: func(_ *cli.Context, v string) error {
				_, err := output.ParseFormat(v)
				return err
			},
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

func loadCLIConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[metaConfig] = cfg
	return nil
}

// cliConfig returns the loaded CLI configuration.
func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// resolveProfile merges the selected profile with the connection flags.
func resolveProfile(c *cli.Context) (config.Profile, error) {
	return config.Resolve(cliConfig(c), c.String("profile"), config.Profile{
		Server:   c.String("server"),
		Token:    c.String("token"),
		CAFile:   c.String("ca-file"),
		CertFile: c.String("cert-file"),
		KeyFile:  c.String("key-file"),
		Timeout:  c.Duration("timeout"),
	})
}

// newClient builds a client for the resolved profile.
func newClient(c *cli.Context) (*connection.Client, error) {
	p, err := resolveProfile(c)
	if err != nil {
		return nil, err
	}
	return connection.NewClient(connection.Config{
		Server:   p.Server,
		Token:    p.Token,
		CAFile:   p.CAFile,
		CertFile: p.CertFile,
		KeyFile:  p.KeyFile,
		Timeout:  p.Timeout,
	})
}

// requestContext bounds one command's requests.
func requestContext(c *cli.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, d)
}

// outputFormat is the --output flag, or the configured default when the
// flag was not given.
func outputFormat(c *cli.Context) output.Format {
	v := c.String("output")
	if !c.IsSet("output") {
		v = cliConfig(c).DefaultOutput
	}
	f, err := output.ParseFormat(v)
	if err != nil {
		return output.FormatTable
	}
	return f
}

// machineOutput reports whether the output is meant for scripts.
func machineOutput(c *cli.Context) bool {
	return outputFormat(c).Machine()
}

// render prints data in the selected format. table, when non-nil, replaces
// the reflective table for table output.
func render(c *cli.Context, data any, table *output.Table) error {
	if !machineOutput(c) && table != nil {
		return table.Render(c.App.Writer)
	}
	return output.NewFormatter(outputFormat(c), c.Bool("wide")).Format(c.App.Writer, data)
}

// spinner starts a spinner on stderr for table output and returns nil
// otherwise.
func spinner(c *cli.Context, msg string) *output.Spinner {
	if machineOutput(c) {
		return nil
	}
	s := output.NewSpinner(c.App.ErrWriter, msg)
	s.Start()
	return s
}

func stopSpinner(s *output.Spinner, err error, okMsg string) {
	if s == nil {
		return
	}
	if err != nil {
		s.Fail(err.Error())
		return
	}
	s.Success(okMsg)
}

// printf writes to the command output.
func printf(c *cli.Context, format string, args ...any) {
	fmt.Fprintf(c.App.Writer, format, args...)
}

// errWriter is the diagnostics stream.
func errWriter(c *cli.Context) io.Writer {
	return c.App.ErrWriter
}
