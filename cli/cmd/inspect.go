package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/seam/cli/reader"
	"github.com/pithecene-io/seam/cli/render"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single entity.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity (run, chain)",
		Subcommands: []*cli.Command{
			inspectRunCommand(),
			inspectChainCommand(),
		},
	}
}

func inspectRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Inspect a run directory",
		ArgsUsage: "<run-dir>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "Re-hash the output tree and check it against the seal",
			},
		),
		Action: inspectRunAction,
	}
}

func inspectRunAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("run-dir required", 1)
	}
	dir := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	view, err := reader.InspectRun(dir, c.Bool("verify"))
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_run", view)
	}
	return r.Render(view)
}

func inspectChainCommand() *cli.Command {
	return &cli.Command{
		Name:      "chain",
		Usage:     "Inspect a chain base directory",
		ArgsUsage: "<base-dir>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectChainAction,
	}
}

func inspectChainAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("base-dir required", 1)
	}
	baseDir := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	view, err := reader.InspectChain(baseDir)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_chain", view)
	}
	return r.Render(view)
}
