package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/seam/cli/reader"
	"github.com/pithecene-io/seam/cli/render"
)

// listWarningThreshold is the number of items above which we warn about narrowing.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command with subcommands.
// List returns thin slices, not inspect-level detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (runs)",
		Subcommands: []*cli.Command{
			listRunsCommand(),
		},
	}
}

func listRunsCommand() *cli.Command {
	return &cli.Command{
		Name:      "runs",
		Usage:     "List run directories under a base directory",
		ArgsUsage: "<base-dir>",
		Flags:     ReadOnlyFlags(),
		Action:    listRunsAction,
	}
}

func listRunsAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("base-dir required", 1)
	}
	baseDir := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for list commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	results, err := reader.ListRuns(baseDir)
	if err != nil {
		return err
	}

	// Warn on large output (TTY only to avoid noise in pipelines)
	if len(results) > listWarningThreshold && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results.\n\n", len(results))
	}

	return r.Render(results)
}
