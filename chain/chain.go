package chain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/options"
	"github.com/pithecene-io/seam/runner"
	"github.com/pithecene-io/seam/types"
)

// SingleRunner executes one run. Satisfied by *runner.Runner.
type SingleRunner interface {
	Run(ctx context.Context, p runner.Params) (*runner.Result, error)
}

// Stop reasons reported in a chain outcome.
const (
	StoppedMaxRuns      = "max_runs"
	StoppedNotChainable = "not_chainable"
	StoppedError        = "error"
	StoppedCanceled     = "canceled"
)

// Params describes a chain.
type Params struct {
	ScriptDir string
	// BaseDir holds the run directories and the chain state file.
	BaseDir string
	// Pattern names run directories; empty means DefaultPattern.
	Pattern string
	// Start is the first chain index in counter mode. Zero means 1.
	Start int
	// Max caps the number of runs this invocation performs. Zero means
	// run until the script stops the chain.
	Max int
	// Resume makes the persisted state authoritative. When false the
	// chain runs in counter mode from Start, ignoring prior state.
	Resume bool

	Overrides     options.Options
	AutoOverrides options.Options
	Defaults      options.Options
}

// Outcome summarizes a finished chain invocation.
type Outcome struct {
	// RunsCompleted counts the runs sealed by this invocation.
	RunsCompleted int
	// LastResult is the final run's result, nil when no run started.
	LastResult *runner.Result
	// Stopped names why the chain ended.
	Stopped string
}

// Driver executes chains of runs.
type Driver struct {
	runner SingleRunner
	logger *log.Logger
}

// NewDriver creates a chain driver.
func NewDriver(r SingleRunner, logger *log.Logger) *Driver {
	return &Driver{runner: r, logger: logger}
}

// Run drives the chain until the script declines to continue, the run
// cap is reached, the context is canceled, or a run fails.
//
// Progress is recorded after every sealed run. A later invocation with
// Resume set picks up exactly where the state file says, feeding the
// recorded previous run's output into the next run.
func (d *Driver) Run(ctx context.Context, p Params) (*Outcome, error) {
	pattern := p.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if p.BaseDir == "" {
		return nil, fmt.Errorf("chain base directory is required")
	}
	if err := os.MkdirAll(p.BaseDir, 0o755); err != nil {
		return nil, err
	}

	nextIndex, prevDir, err := d.resumePoint(p, pattern)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	for {
		if p.Max > 0 && outcome.RunsCompleted >= p.Max {
			outcome.Stopped = StoppedMaxRuns
			return outcome, nil
		}
		if ctx.Err() != nil {
			outcome.Stopped = StoppedCanceled
			return outcome, ctx.Err()
		}

		dirName := FormatRunDir(pattern, nextIndex)
		outDir := filepath.Join(p.BaseDir, dirName)
		if _, err := os.Stat(outDir); err == nil {
			outcome.Stopped = StoppedError
			return outcome, fmt.Errorf("run directory %s already exists; refusing to overwrite a prior run", outDir)
		}

		d.logger.Info("chain run starting", map[string]any{
			"index":    nextIndex,
			"run_dir":  dirName,
			"previous": filepath.Base(prevDir),
		})

		res, runErr := d.runner.Run(ctx, runner.Params{
			ScriptDir:     p.ScriptDir,
			InputDir:      prevDir,
			OutputDir:     outDir,
			ChainIndex:    nextIndex,
			Overrides:     p.Overrides,
			AutoOverrides: p.AutoOverrides,
			Defaults:      p.Defaults,
		})

		if res != nil {
			// The run sealed an output directory, so it counts and the
			// resume point moves past it even when the script failed.
			outcome.RunsCompleted++
			outcome.LastResult = res
			if err := SaveState(p.BaseDir, types.Advanced(nextIndex, dirName)); err != nil {
				outcome.Stopped = StoppedError
				return outcome, fmt.Errorf("record chain progress: %w", err)
			}
		}

		if runErr != nil {
			outcome.Stopped = StoppedError
			return outcome, runErr
		}

		if !res.Chainable {
			d.logger.Info("chain complete", map[string]any{
				"runs":     outcome.RunsCompleted,
				"last_dir": dirName,
			})
			outcome.Stopped = StoppedNotChainable
			return outcome, nil
		}

		prevDir = outDir
		nextIndex++
	}
}

// resumePoint determines where the chain starts: the persisted state
// when resuming, the counter otherwise. In resume mode the recorded
// previous run must still exist and be sealed.
func (d *Driver) resumePoint(p Params, pattern string) (int, string, error) {
	start := p.Start
	if start < 1 {
		start = 1
	}

	if !p.Resume {
		return start, "", nil
	}

	st, err := LoadState(p.BaseDir)
	if err != nil {
		return 0, "", err
	}
	if st == nil {
		return start, "", nil
	}

	prevDir := filepath.Join(p.BaseDir, st.Previous)
	if _, err := os.Stat(filepath.Join(prevDir, types.SentinelFile)); err != nil {
		return 0, "", &StateError{
			Path: filepath.Join(p.BaseDir, StateFile),
			Err:  fmt.Errorf("recorded previous run %s is missing or unsealed: %w", st.Previous, err),
		}
	}

	d.logger.Info("resuming chain", map[string]any{
		"next_index": st.NextIndex,
		"previous":   st.Previous,
	})
	return st.NextIndex, prevDir, nil
}

// IsStateError reports whether err is a chain state failure, which
// callers surface with a distinct exit code.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
