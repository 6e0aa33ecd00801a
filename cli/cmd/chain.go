package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/seam/chain"
	"github.com/pithecene-io/seam/cli/config"
	"github.com/pithecene-io/seam/log"
)

// ChainCommand returns the chain command.
func ChainCommand() *cli.Command {
	return &cli.Command{
		Name:  "chain",
		Usage: "Execute successive runs, feeding each sealed output into the next",
		Flags: append(ExecFlags(),
			&cli.StringFlag{
				Name:     "base",
				Aliases:  []string{"b"},
				Usage:    "Base directory holding the run directories and chain state",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "pattern",
				Usage: "Run directory name pattern with one %0Nd placeholder",
			},
			&cli.IntFlag{
				Name:  "start",
				Usage: "First chain index in counter mode (ignored when resuming)",
			},
			&cli.IntFlag{
				Name:  "max",
				Usage: "Maximum runs this invocation performs (0 = until the script stops)",
			},
			&cli.BoolFlag{
				Name:  "no-resume",
				Usage: "Ignore persisted chain state and run in counter mode from --start",
			},
		),
		Action: chainAction,
	}
}

func chainAction(c *cli.Context) error {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitSetupError)
	}

	overrides, err := parseOptPairs(c.StringSlice("opt"))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	autoOverrides, err := parseOptPairs(c.StringSlice("auto"))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	baseDir := c.String("base")
	logger := log.NewLogger(log.RunContext{RunDir: filepath.Base(baseDir)})
	driver := chain.NewDriver(buildRunner(cfg, logger), logger)

	pattern := c.String("pattern")
	if pattern == "" {
		pattern = cfg.Chain.Pattern
	}
	max := c.Int("max")
	if max == 0 {
		max = cfg.Chain.Max
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	outcome, runErr := driver.Run(ctx, chain.Params{
		ScriptDir:     c.String("script-dir"),
		BaseDir:       baseDir,
		Pattern:       pattern,
		Start:         c.Int("start"),
		Max:           max,
		Resume:        !c.Bool("no-resume"),
		Overrides:     overrides,
		AutoOverrides: autoOverrides,
		Defaults:      cfg.RunDefaults(),
	})

	if !c.Bool("quiet") && outcome != nil {
		printChainOutcome(outcome, time.Since(start))
	}

	if runErr != nil {
		return cli.Exit(runErr.Error(), exitCodeFor(runErr))
	}
	return cli.Exit("", exitSuccess)
}

func printChainOutcome(outcome *chain.Outcome, duration time.Duration) {
	fmt.Printf("runs_completed=%d, stopped=%s, duration=%s\n",
		outcome.RunsCompleted,
		outcome.Stopped,
		duration.Round(time.Millisecond),
	)
	if outcome.LastResult != nil {
		fmt.Printf("last_run_id=%s, chainable=%t\n",
			outcome.LastResult.RunID,
			outcome.LastResult.Chainable,
		)
	}
}
