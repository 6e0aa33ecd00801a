package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/seam/chain"
	"github.com/pithecene-io/seam/cli/config"
	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/options"
	"github.com/pithecene-io/seam/runner"
	"github.com/pithecene-io/seam/script"
	"github.com/pithecene-io/seam/session"
)

// Exit codes for the run and chain commands.
const (
	exitSuccess     = 0
	exitScriptError = 1
	exitSetupError  = 2
	exitStateError  = 3
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a single run and seal its output directory",
		Flags: append(ExecFlags(),
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Output directory for this run (must be empty or absent)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Sealed output directory of a prior run to use as input",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
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

	outputDir := c.String("output")
	logger := log.NewLogger(log.RunContext{RunDir: filepath.Base(outputDir)})
	r := buildRunner(cfg, logger)

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	res, runErr := r.Run(ctx, runner.Params{
		ScriptDir:     c.String("script-dir"),
		InputDir:      c.String("input"),
		OutputDir:     outputDir,
		Overrides:     overrides,
		AutoOverrides: autoOverrides,
		Defaults:      cfg.RunDefaults(),
	})

	if !c.Bool("quiet") && res != nil {
		printRunResult(res, time.Since(start))
	}

	if runErr != nil {
		return cli.Exit(runErr.Error(), exitCodeFor(runErr))
	}
	return cli.Exit("", exitSuccess)
}

// buildRunner wires the session manager and script registry into a
// runner using the config file's binary locations.
func buildRunner(cfg *config.Config, logger *log.Logger) *runner.Runner {
	mgr := session.NewManager(session.Config{
		ArchiveManagerBin: cfg.Archive.ManagerBin,
		ArchiveServerBin:  cfg.Archive.ServerBin,
		XvfbBin:           cfg.Display.XvfbBin,
		VNCBin:            cfg.Display.VNCBin,
		WMBin:             cfg.Display.WMBin,
	}, logger)
	return runner.New(mgr, script.DefaultRegistry, logger)
}

// parseOptPairs turns repeated key=value flags into an option layer.
// Values are parsed as JSON so numbers, booleans, and objects survive;
// anything that fails to parse is kept as a plain string. A bare key
// with no value means true.
func parseOptPairs(pairs []string) (options.Options, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	opts := make(options.Options, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		if key == "" {
			return nil, fmt.Errorf("invalid option %q: empty key", pair)
		}
		if !found {
			opts[key] = true
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			opts[key] = raw
		} else {
			opts[key] = v
		}
	}
	return opts, nil
}

// exitCodeFor maps run and chain failures to command exit codes. A
// timed-out run is an operator-visible failure like a chain state
// error, not an ordinary script error.
func exitCodeFor(err error) int {
	var (
		scriptErr  *runner.ScriptError
		timeoutErr *runner.TimeoutError
	)
	switch {
	case err == nil:
		return exitSuccess
	case chain.IsStateError(err):
		return exitStateError
	case errors.As(err, &timeoutErr):
		return exitStateError
	case errors.As(err, &scriptErr):
		return exitScriptError
	default:
		return exitSetupError
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

func printRunResult(res *runner.Result, duration time.Duration) {
	fmt.Printf("run_id=%s, chainable=%t, duration=%s\n",
		res.RunID,
		res.Chainable,
		duration.Round(time.Millisecond),
	)
	if res.OutputHash != "" {
		fmt.Printf("output_hash=%s\n", res.OutputHash)
	}
	if res.Report != nil && res.Report.Error != "" {
		fmt.Printf("error=%s\n", res.Report.Error)
	}
}
