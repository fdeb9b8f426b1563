package command

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rxcheckpoint/internal/cli/output"
	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/infra/confloader"
	serverconfig "github.com/yndnr/rxcheckpoint/internal/server/config"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/storage/backend"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/logger"
)

// StoreCommand returns the offline store subcommand group.
func StoreCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "server-config", Usage: "Take the storage section from a server configuration file"},
		&cli.StringFlag{Name: "backend", Usage: "memory, badger, sqlite or file"},
		&cli.StringFlag{Name: "data-dir", Usage: "Storage data directory"},
		&cli.StringFlag{Name: "encryption-key", Usage: "File backend master key (rxk_...)", EnvVars: []string{"RXCKPT_STORAGE__FILE__ENCRYPTION_KEY"}},
		&cli.StringFlag{Name: "passphrase", Usage: "File backend passphrase", EnvVars: []string{"RXCKPT_STORAGE__FILE__PASSPHRASE"}},
	}
	idFlag := &cli.StringFlag{Name: "checkpoint-id", Usage: "Checkpoint to read (default: configured engine checkpoint id)"}

	return &cli.Command{
		Name:  "store",
		Usage: "Read a checkpoint store directly (server must be stopped)",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List committed checkpoints",
				Flags:  flags,
				Action: storeList,
			},
			{
				Name:   "inspect",
				Usage:  "Decode every record of a checkpoint",
				Flags:  append(append([]cli.Flag{}, flags...), idFlag),
				Action: storeInspect,
			},
			{
				Name:   "verify",
				Usage:  "Check that every record of a checkpoint decodes",
				Flags:  append(append([]cli.Flag{}, flags...), idFlag),
				Action: storeVerify,
			},
		},
	}
}

// storeConfig builds the server configuration the store commands open:
// defaults, then the server configuration file, then the CLI store
// settings, then flags.
func storeConfig(c *cli.Context) (*serverconfig.ServerConfig, error) {
	cfg := serverconfig.Default()
	if path := c.String("server-config"); path != "" {
		loader := confloader.NewLoader(
			confloader.WithDefaults(serverconfig.Defaults()),
			confloader.WithConfigFile(path),
		)
		if err := loader.Load(cfg); err != nil {
			return nil, err
		}
	} else {
		sc := cliConfig(c).Store
		if sc.Backend != "" {
			cfg.Storage.Backend = sc.Backend
		}
		if sc.DataDir != "" {
			cfg.Storage.DataDir = sc.DataDir
		}
		if sc.CheckpointID != "" {
			cfg.Engine.CheckpointID = sc.CheckpointID
		}
	}

	if v := c.String("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := c.String("encryption-key"); v != "" {
		cfg.Storage.File.EncryptionKey = v
	}
	if v := c.String("passphrase"); v != "" {
		cfg.Storage.File.Passphrase = v
	}
	if v := c.String("checkpoint-id"); v != "" {
		cfg.Engine.CheckpointID = v
	}
	if cfg.Engine.CheckpointID == "" {
		cfg.Engine.CheckpointID = engine.DefaultCheckpointID
	}
	return cfg, nil
}

func storeLogger(c *cli.Context) *slog.Logger {
	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	l, err := logger.New(logger.Config{Level: level, Format: "text", Output: errWriter(c)})
	if err != nil {
		return slog.Default()
	}
	return l
}

func openStore(c *cli.Context) (storage.Store, *serverconfig.ServerConfig, error) {
	cfg, err := storeConfig(c)
	if err != nil {
		return nil, nil, err
	}
	bc, err := cfg.BackendConfig(storeLogger(c))
	if err != nil {
		return nil, nil, err
	}
	if bc.Backend == backend.Memory {
		return nil, nil, fmt.Errorf("the memory backend keeps nothing to read offline")
	}
	s, err := backend.Open(bc)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func storeList(c *cli.Context) error {
	s, _, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := requestContext(c, 5*time.Minute)
	defer cancel()

	infos, err := backend.List(ctx, s)
	if err != nil {
		return err
	}
	if len(infos) == 0 && !machineOutput(c) {
		printf(c, "No committed checkpoints\n")
		return nil
	}
	return render(c, infos, nil)
}

// inspect opens the store and runs engine.Inspect on the configured
// checkpoint.
func inspect(c *cli.Context, progress engine.InspectProgress) (*engine.Report, error) {
	s, cfg, err := openStore(c)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ctx, cancel := requestContext(c, 30*time.Minute)
	defer cancel()

	id := cfg.Engine.CheckpointID
	rep, ok, err := engine.Inspect(ctx, s, id, progress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no committed checkpoint %q", id)
	}
	return rep, nil
}

func storeInspect(c *cli.Context) error {
	rep, err := inspect(c, nil)
	if err != nil {
		return err
	}
	if machineOutput(c) {
		return render(c, rep, nil)
	}
	printReportHeader(c, rep)
	return render(c, rep.Items, nil)
}

func storeVerify(c *cli.Context) error {
	var progress engine.InspectProgress
	var bar *output.ProgressBar
	if !machineOutput(c) {
		bar = output.NewProgressBar(errWriter(c), "Verifying")
		progress = bar.Update
	}
	rep, err := inspect(c, progress)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	if machineOutput(c) {
		if err := render(c, rep, nil); err != nil {
			return err
		}
	} else {
		printReportHeader(c, rep)
		if !rep.OK() {
			t := &output.Table{Headers: []string{"CATEGORY", "ID", "ERROR"}}
			for _, it := range rep.Items {
				if it.Error != "" {
					t.AddRow(it.Category, dash(it.ID), it.Error)
				}
			}
			if err := t.Render(c.App.Writer); err != nil {
				return err
			}
		}
	}
	if !rep.OK() {
		return cli.Exit(fmt.Sprintf("verification failed: %d of %d records are corrupt", rep.Failed, len(rep.Items)), 1)
	}
	if !machineOutput(c) {
		printf(c, "✓ all %d records decode\n", len(rep.Items))
	}
	return nil
}

func printReportHeader(c *cli.Context, rep *engine.Report) {
	printf(c, "Checkpoint %s #%d (%s) committed %s\n",
		rep.Info.ID, rep.Info.Sequence, rep.Info.Lineage, rep.Info.CommittedAt.Format(time.RFC3339))
	printf(c, "Records: %d  Templates: %d  Failed: %d\n\n", len(rep.Items), rep.Templates, rep.Failed)
}
