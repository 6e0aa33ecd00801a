// Package reader loads read-only views of sealed runs and chains for
// the CLI's inspect, list, and TUI surfaces.
package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pithecene-io/seam/chain"
	"github.com/pithecene-io/seam/runner"
	"github.com/pithecene-io/seam/types"
)

// Seal verification states in a RunView.
const (
	SealOK       = "ok"
	SealMismatch = "mismatch"
	SealMissing  = "missing"
)

// RunView is the rendered summary of one run directory.
type RunView struct {
	Dir        string    `json:"dir"`
	RunID      string    `json:"run_id,omitempty"`
	Script     string    `json:"script,omitempty"`
	ChainIndex int       `json:"chain_index,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Chainable  bool      `json:"chainable"`
	Error      string    `json:"error,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	Seal       string    `json:"seal"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Contexts []runner.ContextReport `json:"contexts,omitempty"`
}

// ChainView is the rendered summary of a chain base directory.
type ChainView struct {
	BaseDir   string    `json:"base_dir"`
	NextIndex int       `json:"next_index,omitempty"`
	Previous  string    `json:"previous,omitempty"`
	Runs      []RunView `json:"runs"`
}

// InspectRun builds the view of one run directory. With verify set the
// tree is re-hashed against its sentinel; otherwise the sentinel's
// presence alone decides the seal state.
func InspectRun(dir string, verify bool) (*RunView, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("run directory %q is not a directory", dir)
	}

	view := &RunView{Dir: filepath.Base(dir)}

	seal, err := os.ReadFile(filepath.Join(dir, types.SentinelFile))
	switch {
	case err == nil:
		view.Hash = strings.TrimSpace(string(seal))
		view.Seal = SealOK
		if verify {
			if err := runner.VerifySeal(dir); err != nil {
				view.Seal = SealMismatch
			}
		}
	case os.IsNotExist(err):
		view.Seal = SealMissing
	default:
		return nil, err
	}

	// A missing report is not fatal: a run that died before
	// finalization still has a directory worth inspecting.
	report, err := runner.ReadReport(filepath.Join(dir, runner.LogsDir, runner.ReportFile))
	if err == nil {
		view.RunID = report.RunID
		view.Script = report.Script
		view.ChainIndex = report.ChainIndex
		view.Phase = report.Phase
		view.Chainable = report.Chainable
		view.Error = report.Error
		view.StartedAt = report.StartedAt
		view.FinishedAt = report.FinishedAt
		view.Contexts = report.Contexts
	}

	return view, nil
}

// ListRuns summarizes every run directory under baseDir, sorted by
// name. Directories without a sentinel or report are skipped; they are
// not runs.
func ListRuns(baseDir string) ([]RunView, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}

	var views []RunView
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, e.Name())
		if !looksLikeRun(dir) {
			continue
		}
		view, err := InspectRun(dir, false)
		if err != nil {
			continue
		}
		views = append(views, *view)
	}

	sort.Slice(views, func(i, j int) bool { return views[i].Dir < views[j].Dir })
	return views, nil
}

// InspectChain builds the view of a chain base directory: its state
// file plus every run it contains.
func InspectChain(baseDir string) (*ChainView, error) {
	st, err := chain.LoadState(baseDir)
	if err != nil {
		return nil, err
	}

	runs, err := ListRuns(baseDir)
	if err != nil {
		return nil, err
	}

	view := &ChainView{BaseDir: baseDir, Runs: runs}
	if st != nil {
		view.NextIndex = st.NextIndex
		view.Previous = st.Previous
	}
	return view, nil
}

func looksLikeRun(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, types.SentinelFile)); err == nil {
		return true
	}
	_, err := os.Stat(filepath.Join(dir, runner.LogsDir, runner.ReportFile))
	return err == nil
}
