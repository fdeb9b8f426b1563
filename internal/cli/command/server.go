package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rxcheckpoint/internal/cli/connection"
	"github.com/yndnr/rxcheckpoint/internal/cli/output"
	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/server/httpserver/handler"
	"github.com/yndnr/rxcheckpoint/internal/storage"
)

// ServerCommand returns the server subcommand group.
func ServerCommand() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"srv"},
		Usage:   "Inspect and control a running server",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show engine status summary",
				Action: serverStatus,
			},
			{
				Name:   "health",
				Usage:  "Check server health and readiness",
				Action: serverHealth,
			},
			{
				Name:  "checkpoint",
				Usage: "Write a checkpoint now",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "full or differential",
						Value: engine.ModeFull.String(),
					},
				},
				Action: serverCheckpoint,
			},
			{
				Name:   "current",
				Usage:  "Show the last committed checkpoint",
				Action: serverCurrent,
			},
			{
				Name:   "recover",
				Usage:  "Replace the engine state with the current checkpoint",
				Action: serverRecover,
			},
			{
				Name:  "parallelism",
				Usage: "Show or change checkpoint and recovery parallelism",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "checkpoint", Usage: "Concurrent entity saves"},
					&cli.IntFlag{Name: "recovery", Usage: "Concurrent entity loads"},
				},
				Action: serverParallelism,
			},
		},
	}
}

func serverStatus(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	var st handler.StatusResponse
	if err := client.Get(ctx, "/admin/v1/status/summary", &st); err != nil {
		return err
	}
	return render(c, st, statusTable(&st))
}

func statusTable(st *handler.StatusResponse) *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("engine_id", st.EngineID)
	t.AddRow("checkpoint_id", st.CheckpointID)
	t.AddRow("version", st.Version)
	t.AddRow("scheduler", st.Scheduler)
	t.AddRow("ready", strconv.FormatBool(st.Ready))
	t.AddRow("templates", strconv.Itoa(st.Templates))
	t.AddRow("parallelism", fmt.Sprintf("checkpoint=%d recovery=%d", st.Parallelism.Checkpoint, st.Parallelism.Recovery))

	kinds := make([]string, 0, len(st.Entities))
	for k := range st.Entities {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		t.AddRow("entities."+k, strconv.Itoa(st.Entities[k]))
	}

	if lc := st.LastCheckpoint; lc != nil {
		t.AddRow("last_checkpoint", fmt.Sprintf("#%d %s at %s", lc.Sequence, lc.Lineage, lc.CommittedAt.Format(time.RFC3339)))
	} else {
		t.AddRow("last_checkpoint", "-")
	}
	return t
}

func serverHealth(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	result := map[string]string{"target": client.BaseURL()}

	var health map[string]string
	if err := client.Get(ctx, "/health", &health); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}
	result["health"] = health["status"]

	var ready map[string]string
	err = client.Get(ctx, "/ready", &ready)
	var apiErr *connection.APIError
	switch {
	case err == nil:
		result["ready"] = ready["status"]
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable:
		result["ready"] = "not ready"
	default:
		return err
	}

	if machineOutput(c) {
		return render(c, result, nil)
	}
	printf(c, "✓ Server is %s\n", result["health"])
	printf(c, "  Target: %s\n", result["target"])
	printf(c, "  Ready:  %s\n", result["ready"])
	return nil
}

func serverCheckpoint(c *cli.Context) error {
	mode, err := engine.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 10*time.Minute)
	defer cancel()

	var res engine.CheckpointResult
	sp := spinner(c, "Writing "+mode.String()+" checkpoint")
	err = client.Post(ctx, "/admin/v1/checkpoints?mode="+url.QueryEscape(mode.String()), nil, &res)
	stopSpinner(sp, err, fmt.Sprintf("Checkpoint #%d committed", res.Info.Sequence))
	if err != nil {
		printFailures(c, err)
		return err
	}

	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("checkpoint_id", res.Info.ID)
	t.AddRow("sequence", strconv.FormatUint(res.Info.Sequence, 10))
	t.AddRow("lineage", string(res.Info.Lineage))
	t.AddRow("written", strconv.Itoa(res.Written))
	t.AddRow("deleted", strconv.Itoa(res.Deleted))
	t.AddRow("templates", strconv.Itoa(res.Templates))
	t.AddRow("skipped", strconv.Itoa(res.Skipped))
	t.AddRow("elapsed", res.Elapsed.String())
	return render(c, res, t)
}

func serverCurrent(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	var info storage.Info
	if err := client.Get(ctx, "/admin/v1/checkpoints/current", &info); err != nil {
		return err
	}
	return render(c, info, nil)
}

func serverRecover(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 10*time.Minute)
	defer cancel()

	var res engine.RecoveryResult
	sp := spinner(c, "Recovering")
	err = client.Post(ctx, "/admin/v1/recoveries", nil, &res)
	stopSpinner(sp, err, "Recovery finished")
	if err != nil {
		printFailures(c, err)
		return err
	}
	if !res.Found && !machineOutput(c) {
		printf(c, "No committed checkpoint; engine state unchanged\n")
		return nil
	}

	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("checkpoint_id", res.Info.ID)
	t.AddRow("sequence", strconv.FormatUint(res.Info.Sequence, 10))
	t.AddRow("loaded", strconv.Itoa(res.Loaded))
	t.AddRow("templates", strconv.Itoa(res.Templates))
	t.AddRow("invalid", strconv.Itoa(res.Invalid))
	t.AddRow("elapsed", res.Elapsed.String())
	return render(c, res, t)
}

func serverParallelism(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	var par handler.ParallelismResponse
	if c.IsSet("checkpoint") || c.IsSet("recovery") {
		req := handler.ParallelismRequest{Checkpoint: c.Int("checkpoint"), Recovery: c.Int("recovery")}
		if err := client.Post(ctx, "/admin/v1/parallelism", req, &par); err != nil {
			return err
		}
	} else {
		var st handler.StatusResponse
		if err := client.Get(ctx, "/admin/v1/status/summary", &st); err != nil {
			return err
		}
		par = st.Parallelism
	}
	return render(c, par, nil)
}

// printFailures lists the per-entity failures of a partial checkpoint or
// recovery.
func printFailures(c *cli.Context, err error) {
	var apiErr *connection.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != domain.ErrPartialFailure.Code || len(apiErr.Details) == 0 {
		return
	}
	var details handler.PartialFailureDetails
	if json.Unmarshal(apiErr.Details, &details) != nil || len(details.Failures) == 0 {
		return
	}
	t := &output.Table{Headers: []string{"KIND", "ID", "CODE", "MESSAGE"}}
	for _, f := range details.Failures {
		t.AddRow(dash(f.Kind), dash(f.ID), dash(f.Code), f.Message)
	}
	_ = t.Render(errWriter(c))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
