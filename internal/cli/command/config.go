package command

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rxcheckpoint/internal/cli/config"
	"github.com/yndnr/rxcheckpoint/internal/cli/output"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the CLI configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the CLI configuration (tokens masked)",
				Action: configShow,
			},
			{
				Name:   "path",
				Usage:  "Print the CLI configuration file path",
				Action: configPath,
			},
			{
				Name:      "set-profile",
				Usage:     "Create or update a profile",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Usage: "Server address"},
					&cli.StringFlag{Name: "token", Usage: "Admin bearer token"},
					&cli.StringFlag{Name: "ca-file", Usage: "CA bundle for the server certificate"},
					&cli.StringFlag{Name: "cert-file", Usage: "Client certificate for mutual TLS"},
					&cli.StringFlag{Name: "key-file", Usage: "Client key for mutual TLS"},
					&cli.DurationFlag{Name: "timeout", Usage: "Request timeout"},
					&cli.BoolFlag{Name: "use", Usage: "Make it the current profile"},
				},
				Action: configSetProfile,
			},
			{
				Name:      "use",
				Usage:     "Select the current profile",
				ArgsUsage: "NAME",
				Action:    configUse,
			},
			{
				Name:      "delete-profile",
				Usage:     "Remove a profile",
				ArgsUsage: "NAME",
				Action:    configDeleteProfile,
			},
		},
	}
}

// masked returns a copy of cfg with tokens hidden.
func masked(cfg *config.CLIConfig) *config.CLIConfig {
	out := *cfg
	out.Profiles = make(map[string]config.Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		if p.Token != "" {
			p.Token = maskToken(p.Token)
		}
		out.Profiles[name] = p
	}
	return &out
}

func maskToken(t string) string {
	if len(t) <= 8 {
		return "****"
	}
	return t[:4] + "****" + t[len(t)-4:]
}

func configShow(c *cli.Context) error {
	cfg := masked(cliConfig(c))
	if machineOutput(c) {
		return render(c, cfg, nil)
	}

	printf(c, "Config file:     %s\n", c.String("config"))
	printf(c, "Default output:  %s\n", cfg.DefaultOutput)
	printf(c, "Current profile: %s\n\n", dash(cfg.CurrentProfile))

	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	t := &output.Table{Headers: []string{"", "PROFILE", "SERVER", "TOKEN", "CA_FILE"}}
	for _, name := range names {
		p := cfg.Profiles[name]
		cur := ""
		if name == cfg.CurrentProfile {
			cur = "*"
		}
		t.AddRow(cur, name, p.Server, dash(p.Token), dash(p.CAFile))
	}
	return t.Render(c.App.Writer)
}

func configPath(c *cli.Context) error {
	printf(c, "%s\n", c.String("config"))
	return nil
}

func profileName(c *cli.Context) (string, error) {
	if c.NArg() != 1 || c.Args().First() == "" {
		return "", fmt.Errorf("expected a profile name")
	}
	return c.Args().First(), nil
}

func configSetProfile(c *cli.Context) error {
	name, err := profileName(c)
	if err != nil {
		return err
	}
	cfg := cliConfig(c)
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]config.Profile)
	}

	p := cfg.Profiles[name]
	if c.IsSet("server") {
		p.Server = c.String("server")
	}
	if c.IsSet("token") {
		p.Token = c.String("token")
	}
	if c.IsSet("ca-file") {
		p.CAFile = c.String("ca-file")
	}
	if c.IsSet("cert-file") {
		p.CertFile = c.String("cert-file")
	}
	if c.IsSet("key-file") {
		p.KeyFile = c.String("key-file")
	}
	if c.IsSet("timeout") {
		p.Timeout = c.Duration("timeout")
	}
	if p.Server == "" {
		p.Server = config.DefaultServer
	}
	cfg.Profiles[name] = p
	if c.Bool("use") || cfg.CurrentProfile == "" {
		cfg.CurrentProfile = name
	}

	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	printf(c, "✓ profile %s saved\n", name)
	return nil
}

func configUse(c *cli.Context) error {
	name, err := profileName(c)
	if err != nil {
		return err
	}
	cfg := cliConfig(c)
	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	cfg.CurrentProfile = name
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	printf(c, "✓ using profile %s\n", name)
	return nil
}

func configDeleteProfile(c *cli.Context) error {
	name, err := profileName(c)
	if err != nil {
		return err
	}
	cfg := cliConfig(c)
	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	delete(cfg.Profiles, name)
	if cfg.CurrentProfile == name {
		cfg.CurrentProfile = ""
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	printf(c, "✓ profile %s deleted\n", name)
	return nil
}
