// Package runner executes a single run: resolve options, bring up the
// session set, hand control to the script, and finalize the output
// directory into an immutable, hash-sealed tree.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/seam/fsio"
	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/options"
	"github.com/pithecene-io/seam/script"
	"github.com/pithecene-io/seam/session"
	"github.com/pithecene-io/seam/types"
)

// Well-known names inside a run's output directory.
const (
	LogsDir        = "logs"
	RunLogFile     = "run.log"
	ReportFile     = "report.msgpack"
	ConfigFileName = "config.json"
)

// Instantiator launches the session set for a run. Satisfied by
// *session.Manager; injectable so runs can execute against pre-built
// sessions.
type Instantiator interface {
	InstantiateAll(ctx context.Context, scriptDir, inputDir, outputDir string, runOpts, autoOverrides options.Options) (*session.Set, error)
}

// ScriptError reports a failure inside the script itself. The run's
// output is still finalized; the error only poisons chainability.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %q failed: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// TimeoutError reports a run that exceeded its wall-clock timeout. The
// session set was closed out from under the script, killing every owned
// helper process group; the partial output tree is still sealed.
// Timeouts surface as operator-visible failures, not ordinary script
// errors.
type TimeoutError struct {
	Seconds int
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run exceeded its %ds timeout: %v", e.Seconds, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// SetupError reports a failure before the script ran: bad directories,
// unresolvable options, or sessions that would not come up.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Params describes one run.
type Params struct {
	ScriptDir string
	// InputDir is a locked output directory of a prior run, or empty
	// for a run with no input.
	InputDir  string
	OutputDir string

	// Overrides are run options from the command line; they win over
	// every config.json layer.
	Overrides options.Options
	// AutoOverrides are automation options from the command line; they
	// win over every browser.json layer.
	AutoOverrides options.Options
	// Defaults sit below all config.json layers.
	Defaults options.Options

	// ChainIndex is the 1-based chain position, zero for standalone.
	ChainIndex int
}

// Result summarizes a finished (or failed-but-finalized) run.
type Result struct {
	RunID      string
	Chainable  bool
	OutputHash string
	Report     *Report
}

// Runner executes runs.
type Runner struct {
	sessions Instantiator
	scripts  *script.Registry
	logger   *log.Logger
}

// New creates a runner.
func New(sessions Instantiator, scripts *script.Registry, logger *log.Logger) *Runner {
	return &Runner{sessions: sessions, scripts: scripts, logger: logger}
}

// Run executes one run end to end.
//
// Once validation has passed and the output directory exists, the run
// is always finalized: whatever the tree holds when the script returns,
// errors, or times out is hashed, sealed, and locked. Only the
// chainable flag distinguishes a clean run from a poisoned one.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	runID := uuid.NewString()
	report := &Report{
		RunID:      runID,
		Version:    types.Version,
		ChainIndex: p.ChainIndex,
		StartedAt:  time.Now().UTC(),
	}

	logger, logClose, err := r.prepareOutput(p, runID)
	if err != nil {
		return nil, &SetupError{Stage: "validating", Err: err}
	}
	defer logClose()

	runOpts, err := r.resolveOptions(logger, p)
	if err != nil {
		report.Phase = string(types.PhaseValidating)
		report.Error = err.Error()
		r.finalize(logger, p.OutputDir, report)
		return nil, &SetupError{Stage: "resolving options", Err: err}
	}
	report.Options = runOpts.Redacted()

	scriptName := runOpts.String("script")
	sc, err := r.scripts.Lookup(scriptName)
	if err != nil {
		report.Phase = string(types.PhaseValidating)
		report.Error = err.Error()
		r.finalize(logger, p.OutputDir, report)
		return nil, &SetupError{Stage: "resolving script", Err: err}
	}
	report.Script = sc.Info().Name
	report.ScriptVersion = sc.Info().Version

	logger.Info("run starting", map[string]any{
		"run_id": runID,
		"script": report.Script,
		"input":  p.InputDir,
	})

	logger.Info("phase", map[string]any{"phase": types.PhasePreparingSessions})
	set, err := r.sessions.InstantiateAll(ctx, p.ScriptDir, p.InputDir, p.OutputDir, runOpts, p.AutoOverrides)
	if err != nil {
		report.Phase = string(types.PhasePreparingSessions)
		report.Error = err.Error()
		r.finalize(logger, p.OutputDir, report)
		return nil, &SetupError{Stage: "preparing sessions", Err: err}
	}

	chainable, scriptErr := r.execute(ctx, logger, sc, set, p, runOpts)
	report.Chainable = chainable
	if scriptErr != nil {
		report.Error = scriptErr.Error()
	}
	report.Phase = string(types.PhaseExecutingScript)

	logger.Info("phase", map[string]any{"phase": types.PhaseTearingDown})
	if err := set.StopTracing(); err != nil {
		logger.Warn("stop tracing", map[string]any{"error": err.Error()})
	}
	report.Contexts = contextReports(set)
	if err := set.Close(); err != nil {
		logger.Warn("session teardown", map[string]any{"error": err.Error()})
	}

	hash := r.finalize(logger, p.OutputDir, report)
	report.OutputHash = hash

	res := &Result{
		RunID:      runID,
		Chainable:  chainable && scriptErr == nil,
		OutputHash: hash,
		Report:     report,
	}
	if scriptErr != nil {
		var te *TimeoutError
		if errors.As(scriptErr, &te) {
			return res, te
		}
		return res, &ScriptError{Script: report.Script, Err: scriptErr}
	}
	r.logger.Info("run complete", map[string]any{
		"run_id":    runID,
		"chainable": res.Chainable,
		"hash":      hash,
	})
	return res, nil
}

// prepareOutput validates the directories, creates the output tree, and
// routes the run logger into it. When an input directory is given its
// seal is carried forward as input.sum so the lineage of chained runs
// is recorded inside each locked tree.
func (r *Runner) prepareOutput(p Params, runID string) (*log.Logger, func(), error) {
	if p.ScriptDir == "" {
		return nil, nil, fmt.Errorf("script directory is required")
	}
	if info, err := os.Stat(p.ScriptDir); err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("script directory %q is not a directory", p.ScriptDir)
	}
	if p.OutputDir == "" {
		return nil, nil, fmt.Errorf("output directory is required")
	}
	if entries, err := os.ReadDir(p.OutputDir); err == nil && len(entries) > 0 {
		return nil, nil, fmt.Errorf("output directory %q is not empty", p.OutputDir)
	}
	if err := os.MkdirAll(filepath.Join(p.OutputDir, LogsDir), 0o755); err != nil {
		return nil, nil, err
	}

	var inputSeal []byte
	if p.InputDir != "" {
		seal, err := os.ReadFile(filepath.Join(p.InputDir, types.SentinelFile))
		if err != nil {
			return nil, nil, fmt.Errorf("input directory %q is not a sealed run output: %w", p.InputDir, err)
		}
		inputSeal = seal
	}
	if inputSeal != nil {
		err := fsio.WriteFileAtomic(filepath.Join(p.OutputDir, types.InputSentinelFile), inputSeal, 0o644)
		if err != nil {
			return nil, nil, err
		}
	}

	logFile, err := os.Create(filepath.Join(p.OutputDir, LogsDir, RunLogFile))
	if err != nil {
		return nil, nil, err
	}

	rc := log.RunContext{RunDir: filepath.Base(p.OutputDir), ChainIndex: p.ChainIndex}
	logger := log.NewLogger(rc).WithOutput(logFile)
	logger.Info("phase", map[string]any{"phase": types.PhaseValidating, "run_id": runID})
	return logger, func() { _ = logFile.Close() }, nil
}

// resolveOptions layers the run options: defaults, then config.json
// from the script and input directories in order, then the command
// line. The script name is the only universally required key.
func (r *Runner) resolveOptions(logger *log.Logger, p Params) (options.Options, error) {
	var dirs []string
	if p.ScriptDir != "" {
		dirs = append(dirs, p.ScriptDir)
	}
	if p.InputDir != "" {
		dirs = append(dirs, p.InputDir)
	}
	files := options.ExistingFiles(ConfigFileName, dirs...)

	resolved, err := options.Resolve(files, p.Defaults, nil)
	if err != nil {
		return nil, err
	}
	resolved = resolved.Merge(p.Overrides)

	if !resolved.Has("script") {
		return nil, &options.MissingKeyError{Key: "script", Searched: files}
	}

	logger.Debug("options resolved", map[string]any{
		"files":   files,
		"options": resolved.Redacted(),
	})
	return resolved, nil
}

// execute runs the script under its timeout. The deadline is enforced,
// not advisory: when it expires the session set is closed out from
// under the script, which kills every owned helper process group and
// fails any blocked engine call, so the run reaches finalization even
// if the script ignores its context. Owned helper crashes during
// execution poison the run even when the script reports success.
func (r *Runner) execute(ctx context.Context, logger *log.Logger, sc script.Script, set *session.Set, p Params, runOpts options.Options) (bool, error) {
	logger.Info("phase", map[string]any{"phase": types.PhaseExecutingScript})

	runCtx := ctx
	timeoutSecs := runOpts.Int("timeout")
	if timeoutSecs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
		defer cancel()
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-runCtx.Done():
			logger.Error("run cut short, closing sessions", map[string]any{"error": runCtx.Err().Error()})
			_ = set.Close()
		case <-watchDone:
		}
	}()

	env := &script.Env{
		Sessions:  set.Sessions(),
		ScriptDir: p.ScriptDir,
		InputDir:  p.InputDir,
		OutputDir: p.OutputDir,
	}

	chainable, err := sc.Run(runCtx, env)
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		terr := &TimeoutError{Seconds: timeoutSecs, Err: err}
		logger.Error("script timed out", map[string]any{"timeout_seconds": timeoutSecs})
		return false, terr
	}
	if err != nil {
		logger.Error("script failed", map[string]any{"error": err.Error()})
		return false, err
	}

	for _, name := range set.Names() {
		if h := set.Get(name).CrashedHelper(); h != nil {
			err := fmt.Errorf("helper %s for context %q died during the run: %v", h.Name(), name, h.ExitErr())
			logger.Error("helper crashed", map[string]any{"error": err.Error()})
			return false, err
		}
	}
	return chainable, nil
}

// finalize seals the output directory: write the run report, hash the
// tree, drop the sentinel, and strip write permission from everything.
// Runs unconditionally once the output directory exists; a failed run's
// partial tree is sealed the same way a clean one is.
//
// Nothing may touch the tree once the hash is computed. run.log is part
// of the hashed tree, so every message from the hash onward goes to the
// runner's own logger instead of the run logger.
func (r *Runner) finalize(logger *log.Logger, outputDir string, report *Report) string {
	report.FinishedAt = time.Now().UTC()

	logger.Info("phase", map[string]any{"phase": types.PhaseHashing})
	if err := writeReport(filepath.Join(outputDir, LogsDir, ReportFile), report); err != nil {
		logger.Error("write run report", map[string]any{"error": err.Error()})
	}

	hash, err := fsio.HashTree(outputDir, types.SentinelFile)
	if err != nil {
		r.logger.Error("hash output tree", map[string]any{"error": err.Error()})
		return ""
	}

	sentinel := filepath.Join(outputDir, types.SentinelFile)
	if err := fsio.WriteFileAtomic(sentinel, []byte(hash+"\n"), 0o444); err != nil {
		r.logger.Error("write sentinel", map[string]any{"error": err.Error()})
		return hash
	}

	if err := fsio.LockTree(outputDir); err != nil {
		r.logger.Error("lock output tree", map[string]any{"error": err.Error()})
	}
	r.logger.Info("phase", map[string]any{"phase": types.PhaseLocked, "hash": hash})
	return hash
}

func contextReports(set *session.Set) []ContextReport {
	var reports []ContextReport
	for _, name := range set.Names() {
		s := set.Get(name)
		cr := ContextReport{
			Name:          name,
			ProxyEndpoint: s.ProxyEndpoint,
			RecordedHAR:   s.Spec.RecordHAR,
			RecordedVideo: s.Spec.RecordVideo,
			RecordedWARC:  s.Spec.RecordWARC && s.Spec.Replay == types.ReplayOff,
			Replay:        string(s.Spec.Replay),
		}
		if h := s.CrashedHelper(); h != nil {
			cr.CrashedHelper = h.Name()
		}
		reports = append(reports, cr)
	}
	return reports
}

// VerifySeal recomputes a sealed directory's hash and compares it to
// the sentinel. Used by inspect and by chain resume to detect tampered
// or truncated input trees.
func VerifySeal(dir string) error {
	want, err := os.ReadFile(filepath.Join(dir, types.SentinelFile))
	if err != nil {
		return fmt.Errorf("read sentinel: %w", err)
	}
	got, err := fsio.HashTree(dir, types.SentinelFile)
	if err != nil {
		return err
	}
	if got != strings.TrimSpace(string(want)) {
		return fmt.Errorf("output tree does not match its seal: recorded %s, computed %s",
			strings.TrimSpace(string(want)), got)
	}
	return nil
}
