package session

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/options"
	"github.com/pithecene-io/seam/types"
)

func testLogger() *log.Logger {
	return log.NewLogger(log.RunContext{RunDir: "test"})
}

// fakeArchiveTools installs stand-ins for the collection manager and the
// proxy server into a temp bin dir. The manager records each invocation
// into the collection; the server records its arguments and listens on
// the requested port so readiness polling succeeds.
func fakeArchiveTools(t *testing.T) (managerBin, serverBin string) {
	t.Helper()
	if _, err := exec.LookPath("perl"); err != nil {
		t.Skip("perl not available for the fake proxy server")
	}
	binDir := t.TempDir()

	manager := `#!/bin/sh
verb="$1"
coll="$2"
mkdir -p "$PWD/$coll/indexes"
echo "$verb $coll" >> "$PWD/$coll/invocations.log"
ls "$PWD/$coll/archive" 2>/dev/null | sort > "$PWD/$coll/indexes/index.cdxj"
`
	managerBin = filepath.Join(binDir, "fake-wb-manager")
	if err := os.WriteFile(managerBin, []byte(manager), 0o755); err != nil {
		t.Fatalf("install fake manager: %v", err)
	}

	server := `#!/bin/sh
echo "$@" > "$PWD/server-args.log"
port="$2"
exec perl -MIO::Socket::INET -e 'my $l = IO::Socket::INET->new(LocalAddr => "127.0.0.1", LocalPort => $ARGV[0], Listen => 5) or die "listen: $!"; while (my $c = $l->accept) { close $c }' "$port"
`
	serverBin = filepath.Join(binDir, "fake-wayback")
	if err := os.WriteFile(serverBin, []byte(server), 0o755); err != nil {
		t.Fatalf("install fake server: %v", err)
	}
	return managerBin, serverBin
}

func newArchiveManager(t *testing.T) (*Manager, string) {
	t.Helper()
	managerBin, serverBin := fakeArchiveTools(t)
	mgr := NewManager(Config{
		ArchiveManagerBin: managerBin,
		ArchiveServerBin:  serverBin,
	}, testLogger())

	ctxOut := filepath.Join(t.TempDir(), types.ContextsDir, "main")
	if err := os.MkdirAll(ctxOut, 0o755); err != nil {
		t.Fatal(err)
	}
	return mgr, ctxOut
}

func TestAttachArchiveProxy_ReplaySupersedesRecord(t *testing.T) {
	mgr, ctxOut := newArchiveManager(t)

	inputDir := t.TempDir()
	prior := filepath.Join(inputDir, types.ContextsDir, "main", WARCDir)
	if err := os.MkdirAll(prior, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(prior, "one.warc.gz"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// warc and replay both set: the replay proxy wins.
	spec := &types.ContextSpec{
		Name:       "main",
		VideoScale: 1,
		RecordWARC: true,
		Replay:     types.ReplayReadOnly,
	}
	s := &Session{Spec: spec, OutputDir: ctxOut}

	handle, endpoint, err := mgr.attachArchiveProxy(context.Background(), s, spec, "main", inputDir, nil)
	if err != nil {
		t.Fatalf("attachArchiveProxy failed: %v", err)
	}
	if handle == nil {
		t.Fatal("expected a proxy handle")
	}
	t.Cleanup(func() { _ = handle.Stop() })
	if !strings.HasPrefix(endpoint, "http://127.0.0.1:") {
		t.Errorf("endpoint = %q", endpoint)
	}

	// The prior archive was copied forward and reindexed; no fresh
	// record-only collection was initialized.
	invocations, err := os.ReadFile(filepath.Join(ctxOut, WARCDir, "invocations.log"))
	if err != nil {
		t.Fatalf("read invocation log: %v", err)
	}
	if string(invocations) != "reindex warcs\n" {
		t.Errorf("invocations = %q, want only a reindex", invocations)
	}
	if _, err := os.Stat(filepath.Join(ctxOut, WARCDir, "one.warc.gz")); err != nil {
		t.Errorf("prior archive not copied forward: %v", err)
	}

	// Read-only replay must not record unarchived traffic.
	args, err := os.ReadFile(filepath.Join(ctxOut, "server-args.log"))
	if err != nil {
		t.Fatalf("read server args: %v", err)
	}
	if !strings.Contains(string(args), "--proxy warcs") {
		t.Errorf("server args = %q, want a --proxy collection", args)
	}
	if strings.Contains(string(args), "--proxy-record") {
		t.Errorf("server args = %q, read-only replay must not pass --proxy-record", args)
	}
}

func TestAttachArchiveProxy_RecordOnly(t *testing.T) {
	mgr, ctxOut := newArchiveManager(t)

	spec := &types.ContextSpec{
		Name:       "main",
		VideoScale: 1,
		RecordWARC: true,
		Replay:     types.ReplayOff,
	}
	s := &Session{Spec: spec, OutputDir: ctxOut}

	handle, _, err := mgr.attachArchiveProxy(context.Background(), s, spec, "main", "", nil)
	if err != nil {
		t.Fatalf("attachArchiveProxy failed: %v", err)
	}
	t.Cleanup(func() { _ = handle.Stop() })

	invocations, err := os.ReadFile(filepath.Join(ctxOut, WARCDir, "invocations.log"))
	if err != nil {
		t.Fatalf("read invocation log: %v", err)
	}
	if string(invocations) != "init warcs\n" {
		t.Errorf("invocations = %q, want a fresh init", invocations)
	}

	args, err := os.ReadFile(filepath.Join(ctxOut, "server-args.log"))
	if err != nil {
		t.Fatalf("read server args: %v", err)
	}
	if !strings.Contains(string(args), "--proxy-record") {
		t.Errorf("server args = %q, recording proxy must pass --proxy-record", args)
	}
}

func TestAttachArchiveProxy_NoArchiveRequested(t *testing.T) {
	// Nonexistent binaries: any invocation would fail loudly.
	mgr := NewManager(Config{
		ArchiveManagerBin: "seam-test-no-such-manager",
		ArchiveServerBin:  "seam-test-no-such-server",
	}, testLogger())

	spec := &types.ContextSpec{Name: "main", VideoScale: 1, Replay: types.ReplayOff}
	s := &Session{Spec: spec, OutputDir: t.TempDir()}

	handle, endpoint, err := mgr.attachArchiveProxy(context.Background(), s, spec, "main", "", nil)
	if err != nil {
		t.Fatalf("attachArchiveProxy failed: %v", err)
	}
	if handle != nil || endpoint != "" {
		t.Errorf("handle = %v, endpoint = %q, want no proxy", handle, endpoint)
	}
}

func TestAttachArchiveProxy_ReplayWithoutPriorArchive(t *testing.T) {
	mgr, ctxOut := newArchiveManager(t)

	spec := &types.ContextSpec{
		Name:       "main",
		VideoScale: 1,
		Replay:     types.ReplayReadOnly,
	}
	s := &Session{Spec: spec, OutputDir: ctxOut}

	if _, _, err := mgr.attachArchiveProxy(context.Background(), s, spec, "main", t.TempDir(), nil); err == nil {
		t.Fatal("expected error when replay is requested without a prior archive")
	}
}

func TestInstantiateAll_RejectsMisconfiguredContext(t *testing.T) {
	scriptDir := t.TempDir()
	writeJSON(t, filepath.Join(scriptDir, types.ContextsDir, "alpha", "browser.json"), map[string]any{
		"locale": "en-US",
	})
	if err := os.MkdirAll(filepath.Join(scriptDir, types.ContextsDir, "beta"), 0o755); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(scriptDir, types.ContextsDir, "beta", "browser.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(Config{}, testLogger())
	outputDir := t.TempDir()

	_, err := mgr.InstantiateAll(context.Background(), scriptDir, "", outputDir, options.Options{}, nil)
	if err == nil {
		t.Fatal("expected the whole instantiation to fail")
	}
	if !strings.Contains(err.Error(), `"beta"`) {
		t.Errorf("error should name the misconfigured context, got %v", err)
	}

	// Nothing launched, nothing written: the output tree is untouched.
	entries, readErr := os.ReadDir(outputDir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("output dir should be empty after a rejected instantiation, found %d entries", len(entries))
	}
}
