package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeManager installs a stand-in collection manager into a temp bin
// dir. It records each invocation and writes a deterministic index file
// derived from the collection's archive contents.
func fakeManager(t *testing.T) string {
	t.Helper()
	binDir := t.TempDir()
	script := `#!/bin/sh
verb="$1"
coll="$2"
echo "$verb $coll" >> "$PWD/$coll/invocations.log"
mkdir -p "$PWD/$coll/indexes"
ls "$PWD/$coll/archive" 2>/dev/null | sort > "$PWD/$coll/indexes/index.cdxj"
`
	path := filepath.Join(binDir, "fake-manager")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("install fake manager: %v", err)
	}
	return path
}

func newCollection(t *testing.T) string {
	t.Helper()
	parent := t.TempDir()
	dir := filepath.Join(parent, "capture")
	if err := os.MkdirAll(filepath.Join(dir, "archive"), 0o755); err != nil {
		t.Fatalf("mkdir collection: %v", err)
	}
	return dir
}

func TestAdapter_Initialize(t *testing.T) {
	manager := fakeManager(t)
	dir := newCollection(t)

	adapter := NewAdapter(manager, "")
	if err := adapter.Initialize(context.Background(), dir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	log, err := os.ReadFile(filepath.Join(dir, "invocations.log"))
	if err != nil {
		t.Fatalf("read invocation log: %v", err)
	}
	if string(log) != "init capture\n" {
		t.Errorf("invocations = %q, want init capture", log)
	}
}

func TestAdapter_ReIndexIdempotent(t *testing.T) {
	manager := fakeManager(t)
	dir := newCollection(t)
	if err := os.WriteFile(filepath.Join(dir, "archive", "a.warc.gz"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	adapter := NewAdapter(manager, "")
	ctx := context.Background()

	if err := adapter.ReIndex(ctx, dir); err != nil {
		t.Fatalf("first ReIndex failed: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, "indexes", "index.cdxj"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}

	if err := adapter.ReIndex(ctx, dir); err != nil {
		t.Fatalf("second ReIndex failed: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "indexes", "index.cdxj"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("reindex not idempotent: %q vs %q", first, second)
	}
}

func TestAdapter_ManagerFailure(t *testing.T) {
	adapter := NewAdapter("seam-test-no-such-binary", "")
	if err := adapter.Initialize(context.Background(), newCollection(t)); err == nil {
		t.Fatal("expected error for missing manager binary")
	}
}

func TestAdapter_StartServerDiesBeforeReady(t *testing.T) {
	binDir := t.TempDir()
	server := filepath.Join(binDir, "fake-server")
	// Exits immediately without ever listening.
	if err := os.WriteFile(server, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("install fake server: %v", err)
	}

	adapter := NewAdapter("", server)
	_, _, err := adapter.Start(context.Background(), newCollection(t), StartOptions{Record: true})
	if err == nil {
		t.Fatal("expected error when the proxy dies before becoming ready")
	}
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	if err != nil {
		t.Fatalf("FreePort failed: %v", err)
	}
	if port < 1 || port > 65535 {
		t.Errorf("port %d out of range", port)
	}
}

func TestEndpoint(t *testing.T) {
	if got := Endpoint(8080); got != "http://127.0.0.1:8080" {
		t.Errorf("Endpoint = %q", got)
	}
}
