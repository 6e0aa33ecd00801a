// Package cmd provides CLI commands for the seam binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for the read-only inspect commands.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error
// messages instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ExecFlags returns the flags shared by the run and chain commands.
func ExecFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "script-dir",
			Aliases:  []string{"s"},
			Usage:    "Path to the script directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to seam.yaml (missing file is not an error)",
			Value:   "seam.yaml",
		},
		&cli.StringSliceFlag{
			Name:  "opt",
			Usage: "Run option override as key=value (repeatable, value parsed as JSON)",
		},
		&cli.StringSliceFlag{
			Name:  "auto",
			Usage: "Automation option override as key=value (repeatable, value parsed as JSON)",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress result summary output",
		},
	}
}
