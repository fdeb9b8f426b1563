package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/server/httpserver/handler"
)

// entityRow is the table view of an entity.
type entityRow struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Initialized bool      `json:"initialized"`
	Dirty       bool      `json:"dirty"`
	Invalid     bool      `json:"invalid"`
	StateBytes  int       `json:"state_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	Expression  string    `json:"expression" table:"wide"`
	LoadError   string    `json:"load_error" table:"wide"`
}

func toEntityRow(e handler.EntityResponse) entityRow {
	return entityRow{
		ID:          e.ID,
		Kind:        e.Kind,
		Initialized: e.Initialized,
		Dirty:       e.Dirty,
		Invalid:     e.Invalid,
		StateBytes:  len(e.State),
		CreatedAt:   e.CreatedAt,
		Expression:  string(e.Expression),
		LoadError:   e.LoadError,
	}
}

// EntityCommand returns the entity subcommand group.
func EntityCommand() *cli.Command {
	stateFlags := []cli.Flag{
		&cli.StringFlag{Name: "state", Usage: "State bytes as a string"},
		&cli.StringFlag{Name: "state-file", Usage: "Read state bytes from file"},
	}
	return &cli.Command{
		Name:    "entity",
		Aliases: []string{"ent"},
		Usage:   "Manage engine entities",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List entities of a kind",
				ArgsUsage: "KIND",
				Action:    entityList,
			},
			{
				Name:      "get",
				Usage:     "Show one entity",
				ArgsUsage: "KIND ID",
				Action:    entityGet,
			},
			{
				Name:      "create",
				Usage:     "Define or create an entity",
				ArgsUsage: "KIND ID",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "expr", Usage: "Expression as JSON"},
					&cli.StringFlag{Name: "expr-file", Usage: "Read the expression JSON from file"},
				}, stateFlags...),
				Action: entityCreate,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Undefine or delete an entity",
				ArgsUsage: "KIND ID",
				Action:    entityDelete,
			},
			{
				Name:      "set-state",
				Usage:     "Replace the state of an entity",
				ArgsUsage: "KIND ID",
				Flags:     stateFlags,
				Action:    entitySetState,
			},
		},
	}
}

// kindArgs validates KIND and, when needID is set, ID.
func kindArgs(c *cli.Context, needID bool) (domain.Kind, string, error) {
	want := 1
	if needID {
		want = 2
	}
	if c.NArg() != want {
		return domain.KindUnknown, "", fmt.Errorf("expected %d argument(s), got %d", want, c.NArg())
	}
	kind, err := domain.ParseKind(c.Args().Get(0))
	if err != nil {
		return domain.KindUnknown, "", err
	}
	return kind, c.Args().Get(1), nil
}

func entityPath(kind domain.Kind, suffix, id string) string {
	p := "/v1/entities/" + kind.String() + suffix
	if id != "" {
		p += "?id=" + url.QueryEscape(id)
	}
	return p
}

func entityList(c *cli.Context) error {
	kind, _, err := kindArgs(c, false)
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	var list handler.ListEntitiesResponse
	if err := client.Get(ctx, entityPath(kind, "", ""), &list); err != nil {
		return err
	}
	if machineOutput(c) {
		return render(c, list, nil)
	}
	rows := make([]entityRow, len(list.Items))
	for i, e := range list.Items {
		rows[i] = toEntityRow(e)
	}
	if err := render(c, rows, nil); err != nil {
		return err
	}
	printf(c, "\nTotal: %d\n", list.Total)
	return nil
}

func entityGet(c *cli.Context) error {
	kind, id, err := kindArgs(c, true)
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	var ent handler.EntityResponse
	if err := client.Get(ctx, entityPath(kind, "", id), &ent); err != nil {
		return err
	}
	if machineOutput(c) {
		return render(c, ent, nil)
	}
	return render(c, toEntityRow(ent), nil)
}

func entityCreate(c *cli.Context) error {
	kind, id, err := kindArgs(c, true)
	if err != nil {
		return err
	}
	raw, err := flagOrFile(c, "expr", "expr-file")
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("--expr or --expr-file is required")
	}
	if !json.Valid(raw) {
		return fmt.Errorf("expression is not valid JSON")
	}
	state, err := flagOrFile(c, "state", "state-file")
	if err != nil {
		return err
	}

	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	req := handler.EntityRequest{ID: id, Expression: raw, State: state}
	var ent handler.EntityResponse
	if err := client.Post(ctx, entityPath(kind, "", ""), req, &ent); err != nil {
		return err
	}
	if machineOutput(c) {
		return render(c, ent, nil)
	}
	printf(c, "✓ %s %s created\n", ent.Kind, ent.ID)
	return nil
}

func entityDelete(c *cli.Context) error {
	kind, id, err := kindArgs(c, true)
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	if err := client.Delete(ctx, entityPath(kind, "", id)); err != nil {
		return err
	}
	printf(c, "✓ %s %s deleted\n", kind, id)
	return nil
}

func entitySetState(c *cli.Context) error {
	kind, id, err := kindArgs(c, true)
	if err != nil {
		return err
	}
	if !c.IsSet("state") && !c.IsSet("state-file") {
		return fmt.Errorf("--state or --state-file is required")
	}
	state, err := flagOrFile(c, "state", "state-file")
	if err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	if err := client.Put(ctx, entityPath(kind, "/state", id), handler.StateRequest{State: state}, nil); err != nil {
		return err
	}
	printf(c, "✓ %s %s state updated (%d bytes)\n", kind, id, len(state))
	return nil
}

// flagOrFile returns the value of the inline flag, or the contents of the
// file flag. Setting both is an error.
func flagOrFile(c *cli.Context, inline, file string) ([]byte, error) {
	if c.IsSet(inline) && c.IsSet(file) {
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", inline, file)
	}
	if path := c.String(file); path != "" {
		return os.ReadFile(path)
	}
	if v := c.String(inline); v != "" {
		return []byte(v), nil
	}
	return nil, nil
}
