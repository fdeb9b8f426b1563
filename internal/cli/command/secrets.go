package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rxcheckpoint/internal/storage/snapshot"
	"github.com/yndnr/rxcheckpoint/pkg/token"
)

// KeygenCommand returns the keygen command.
func KeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a master key for file store encryption",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "length",
				Usage: "Key length in bytes",
				Value: 32,
			},
		},
		Action: keygen,
	}
}

func keygen(c *cli.Context) error {
	key, err := snapshot.GenerateKey(c.Int("length"))
	if err != nil {
		return err
	}
	defer snapshot.ZeroKey(key)

	formatted := snapshot.FormatKey(key)
	if machineOutput(c) {
		return render(c, map[string]string{"encryption_key": formatted}, nil)
	}
	printf(c, "%s\n", formatted)
	return nil
}

// TokenCommand returns the admin token command group.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Generate and hash admin tokens",
		Subcommands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Generate an admin token and its hash",
				Action: tokenGenerate,
			},
			{
				Name:      "hash",
				Usage:     "Print the hash of an existing token",
				ArgsUsage: "TOKEN",
				Action:    tokenHash,
			},
		},
	}
}

// tokenResult pairs a token with the hash the server configuration stores.
type tokenResult struct {
	Token string `json:"token,omitempty"`
	Hash  string `json:"hash"`
}

func tokenGenerate(c *cli.Context) error {
	tok, err := token.Generate()
	if err != nil {
		return err
	}
	res := tokenResult{Token: tok, Hash: token.Hash(tok)}
	if machineOutput(c) {
		return render(c, res, nil)
	}
	printf(c, "Token: %s\n", res.Token)
	printf(c, "Hash:  %s\n", res.Hash)
	printf(c, "\nSet server.http.admin_token_hash to the hash and hand the token to operators.\n")
	return nil
}

func tokenHash(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected 1 argument, got %d", c.NArg())
	}
	tok := c.Args().First()
	if _, err := token.Parse(tok); err != nil {
		return err
	}
	res := tokenResult{Hash: token.Hash(tok)}
	if machineOutput(c) {
		return render(c, res, nil)
	}
	printf(c, "%s\n", res.Hash)
	return nil
}
