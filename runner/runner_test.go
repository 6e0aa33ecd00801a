package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/seam/fsio"
	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/options"
	"github.com/pithecene-io/seam/proc"
	"github.com/pithecene-io/seam/script"
	"github.com/pithecene-io/seam/session"
	"github.com/pithecene-io/seam/types"
)

// fakeSessions satisfies Instantiator without a live browser engine.
type fakeSessions struct {
	err     error
	lastOpt options.Options
}

func (f *fakeSessions) InstantiateAll(_ context.Context, _, _, _ string, runOpts, _ options.Options) (*session.Set, error) {
	f.lastOpt = runOpts
	if f.err != nil {
		return nil, f.err
	}
	return session.NewSet(nil, map[string]*session.Session{
		types.DefaultContextName: {Spec: &types.ContextSpec{Name: types.DefaultContextName, VideoScale: 1}},
	}), nil
}

func newRegistry(t *testing.T, name string, fn func(context.Context, *script.Env) (bool, error)) *script.Registry {
	t.Helper()
	r := &script.Registry{}
	r.Register(script.Func{Meta: script.Info{Name: name, Version: "1.0.0"}, Fn: fn})
	return r
}

func testLogger() *log.Logger {
	return log.NewLogger(log.RunContext{RunDir: "test"})
}

// unlockAfter re-enables writes on a sealed tree so TempDir cleanup can
// remove it.
func unlockAfter(t *testing.T, dir string) {
	t.Helper()
	t.Cleanup(func() { _ = fsio.UnlockTree(dir) })
}

func runParams(t *testing.T, scriptName string) Params {
	t.Helper()
	out := filepath.Join(t.TempDir(), "run")
	unlockAfter(t, out)
	return Params{
		ScriptDir: t.TempDir(),
		OutputDir: out,
		Overrides: options.Options{"script": scriptName},
	}
}

func TestRun_SealsAndLocks(t *testing.T) {
	reg := newRegistry(t, "crawl", func(_ context.Context, env *script.Env) (bool, error) {
		return true, os.WriteFile(filepath.Join(env.OutputDir, "result.txt"), []byte("data"), 0o644)
	})
	r := New(&fakeSessions{}, reg, testLogger())

	p := runParams(t, "crawl")
	res, err := r.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !res.Chainable {
		t.Error("run should be chainable")
	}
	if res.OutputHash == "" {
		t.Error("output hash missing")
	}
	if res.RunID == "" {
		t.Error("run ID missing")
	}

	if err := VerifySeal(p.OutputDir); err != nil {
		t.Errorf("sealed tree should verify: %v", err)
	}

	if _, err := os.Stat(filepath.Join(p.OutputDir, LogsDir, RunLogFile)); err != nil {
		t.Errorf("run log missing: %v", err)
	}
	report, err := ReadReport(filepath.Join(p.OutputDir, LogsDir, ReportFile))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if report.Script != "crawl" || !report.Chainable {
		t.Errorf("report = %+v", report)
	}
	if len(report.Contexts) != 1 || report.Contexts[0].Name != types.DefaultContextName {
		t.Errorf("report contexts = %+v", report.Contexts)
	}

	if os.Geteuid() != 0 {
		if err := os.WriteFile(filepath.Join(p.OutputDir, "late.txt"), []byte("x"), 0o644); err == nil {
			t.Error("locked tree should refuse new files")
		}
	}
}

func TestRun_ScriptErrorStillSeals(t *testing.T) {
	reg := newRegistry(t, "crawl", func(_ context.Context, env *script.Env) (bool, error) {
		_ = os.WriteFile(filepath.Join(env.OutputDir, "partial.txt"), []byte("x"), 0o644)
		return true, errors.New("target unreachable")
	})
	r := New(&fakeSessions{}, reg, testLogger())

	p := runParams(t, "crawl")
	res, err := r.Run(context.Background(), p)

	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		t.Fatalf("error = %v, want ScriptError", err)
	}
	if res == nil || res.Chainable {
		t.Error("failed run must not be chainable")
	}
	if err := VerifySeal(p.OutputDir); err != nil {
		t.Errorf("failed run's tree should still be sealed: %v", err)
	}

	report, err := ReadReport(filepath.Join(p.OutputDir, LogsDir, ReportFile))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if report.Error == "" {
		t.Error("report should carry the script error")
	}
}

func TestRun_ChainableFalse(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		return false, nil
	})
	r := New(&fakeSessions{}, reg, testLogger())

	res, err := r.Run(context.Background(), runParams(t, "crawl"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Chainable {
		t.Error("script's false chainable flag must propagate")
	}
}

func TestRun_MissingScriptOption(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		return true, nil
	})
	r := New(&fakeSessions{}, reg, testLogger())

	out := filepath.Join(t.TempDir(), "run")
	unlockAfter(t, out)
	_, err := r.Run(context.Background(), Params{ScriptDir: t.TempDir(), OutputDir: out})

	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("error = %v, want SetupError", err)
	}
	var missing *options.MissingKeyError
	if !errors.As(err, &missing) || missing.Key != "script" {
		t.Errorf("error should name the missing script key, got %v", err)
	}
}

func TestRun_UnknownScript(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		return true, nil
	})
	r := New(&fakeSessions{}, reg, testLogger())

	_, err := r.Run(context.Background(), runParams(t, "harvest"))
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("error = %v, want SetupError", err)
	}
}

func TestRun_NonEmptyOutputDir(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		return true, nil
	})
	r := New(&fakeSessions{}, reg, testLogger())

	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(out, "existing"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := r.Run(context.Background(), Params{
		ScriptDir: t.TempDir(),
		OutputDir: out,
		Overrides: options.Options{"script": "crawl"},
	})
	if err == nil {
		t.Fatal("expected error for non-empty output directory")
	}
}

func TestRun_SessionFailureSeals(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		t.Error("script must not run when sessions fail")
		return true, nil
	})
	r := New(&fakeSessions{err: errors.New("browser would not start")}, reg, testLogger())

	p := runParams(t, "crawl")
	_, err := r.Run(context.Background(), p)
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("error = %v, want SetupError", err)
	}
	if err := VerifySeal(p.OutputDir); err != nil {
		t.Errorf("tree should be sealed even without sessions: %v", err)
	}
}

func TestRun_InputSealCarriedForward(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		return true, nil
	})
	r := New(&fakeSessions{}, reg, testLogger())

	// First run produces the input for the second.
	first := runParams(t, "crawl")
	if _, err := r.Run(context.Background(), first); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstSeal, err := os.ReadFile(filepath.Join(first.OutputDir, types.SentinelFile))
	if err != nil {
		t.Fatal(err)
	}

	second := runParams(t, "crawl")
	second.InputDir = first.OutputDir
	if _, err := r.Run(context.Background(), second); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	carried, err := os.ReadFile(filepath.Join(second.OutputDir, types.InputSentinelFile))
	if err != nil {
		t.Fatalf("input seal not carried forward: %v", err)
	}
	if string(carried) != string(firstSeal) {
		t.Errorf("input.sum = %q, want the prior run's seal %q", carried, firstSeal)
	}
}

func TestRun_UnsealedInputRejected(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		return true, nil
	})
	r := New(&fakeSessions{}, reg, testLogger())

	p := runParams(t, "crawl")
	p.InputDir = t.TempDir() // no sentinel
	if _, err := r.Run(context.Background(), p); err == nil {
		t.Fatal("expected error for an input directory without a seal")
	}
}

func TestRun_ConfigFileProvidesScript(t *testing.T) {
	reg := newRegistry(t, "crawl", func(context.Context, *script.Env) (bool, error) {
		return true, nil
	})
	fake := &fakeSessions{}
	r := New(fake, reg, testLogger())

	scriptDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(scriptDir, ConfigFileName), []byte(`{"script":"crawl","har":true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "run")
	unlockAfter(t, out)
	_, err := r.Run(context.Background(), Params{ScriptDir: scriptDir, OutputDir: out})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !fake.lastOpt.Bool("har") {
		t.Error("config.json options should reach the session layer")
	}
}

// sessionsWithHelper builds a set whose single session owns a real
// subprocess, so timeout enforcement on owned process groups can be
// observed.
type sessionsWithHelper struct {
	handle *proc.Handle
}

func (f *sessionsWithHelper) InstantiateAll(_ context.Context, _, _, _ string, _, _ options.Options) (*session.Set, error) {
	h, err := proc.Start("sleeper", "sleep", []string{"60"})
	if err != nil {
		return nil, err
	}
	f.handle = h
	s := &session.Session{Spec: &types.ContextSpec{Name: types.DefaultContextName, VideoScale: 1}}
	s.Own(h)
	return session.NewSet(nil, map[string]*session.Session{types.DefaultContextName: s}), nil
}

func TestRun_TimeoutKillsOwnedProcesses(t *testing.T) {
	fake := &sessionsWithHelper{}
	// The script ignores its context and blocks on the owned helper, the
	// way a blocked engine call would; only killing the helper unblocks
	// it.
	reg := newRegistry(t, "crawl", func(_ context.Context, env *script.Env) (bool, error) {
		<-env.Default().Owned()[0].Done()
		return true, nil
	})
	r := New(fake, reg, testLogger())

	p := runParams(t, "crawl")
	p.Overrides["timeout"] = 1

	start := time.Now()
	res, err := r.Run(context.Background(), p)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
	if timeoutErr.Seconds != 1 {
		t.Errorf("TimeoutError.Seconds = %d, want 1", timeoutErr.Seconds)
	}
	// The helper sleeps for 60s; finishing well short of that means the
	// deadline was enforced rather than waited out.
	if elapsed > 30*time.Second {
		t.Errorf("run took %s, deadline was not enforced", elapsed)
	}
	if res == nil || res.Chainable {
		t.Error("timed-out run must not be chainable")
	}
	if fake.handle.Alive() {
		t.Error("owned helper should be dead after the timeout")
	}
	if err := VerifySeal(p.OutputDir); err != nil {
		t.Errorf("timed-out run's tree should still be sealed: %v", err)
	}
}

func TestVerifySeal_DetectsTamper(t *testing.T) {
	reg := newRegistry(t, "crawl", func(_ context.Context, env *script.Env) (bool, error) {
		return true, os.WriteFile(filepath.Join(env.OutputDir, "result.txt"), []byte("data"), 0o644)
	})
	r := New(&fakeSessions{}, reg, testLogger())

	p := runParams(t, "crawl")
	if _, err := r.Run(context.Background(), p); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := fsio.UnlockTree(p.OutputDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.OutputDir, "result.txt"), []byte("forged"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := VerifySeal(p.OutputDir); err == nil {
		t.Fatal("expected seal mismatch after tampering")
	}
}
