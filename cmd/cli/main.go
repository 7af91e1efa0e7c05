package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/coilworks/optserve/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Submit  commands.SubmitCmd  `cmd:"" help:"Submit an optimization run from a manifest"`
		Status  commands.StatusCmd  `cmd:"" help:"Show a job"`
		Watch   commands.WatchCmd   `cmd:"" help:"Poll job progress until it finishes"`
		Cancel  commands.CancelCmd  `cmd:"" help:"Cancel a job"`
		Token   commands.TokenCmd   `cmd:"" help:"Generate a JWT token"`
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
