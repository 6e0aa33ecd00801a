// Package archive wraps the external record/replay proxy used for WARC
// capture and archival replay.
//
// The adapter shells out to a pywb-compatible toolchain: a collection
// manager binary for initialize/reindex and a proxy server binary that
// records not-yet-archived traffic or serves archived responses. The
// server terminates TLS itself with a generated certificate, so callers
// must tolerate TLS errors toward the local endpoint.
package archive

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pithecene-io/seam/proc"
	"github.com/pithecene-io/seam/types"
)

// Default binary names, overridable via seam.yaml.
const (
	DefaultManagerBin = "wb-manager"
	DefaultServerBin  = "wayback"
)

// readyTimeout bounds how long Start waits for the proxy to accept
// connections before declaring the launch failed.
const readyTimeout = 15 * time.Second

// Adapter controls the external archival proxy toolchain.
type Adapter struct {
	managerBin string
	serverBin  string
}

// NewAdapter creates an adapter. Empty binary names fall back to the
// defaults.
func NewAdapter(managerBin, serverBin string) *Adapter {
	if managerBin == "" {
		managerBin = DefaultManagerBin
	}
	if serverBin == "" {
		serverBin = DefaultServerBin
	}
	return &Adapter{managerBin: managerBin, serverBin: serverBin}
}

// StartOptions configures a proxy server launch.
type StartOptions struct {
	// Record persists traffic that is not yet archived.
	Record bool
	// Upstream, when set, tunnels non-replayed outbound traffic through
	// the given proxy.
	Upstream *types.UpstreamProxy
}

// Initialize creates a fresh archive collection at dir.
// The collection name is dir's base name; the manager runs in dir's
// parent so relative collection layouts land in the right place.
func (a *Adapter) Initialize(ctx context.Context, dir string) error {
	return a.manage(ctx, dir, "init")
}

// ReIndex rebuilds the URL index of the collection at dir. Idempotent;
// required before replaying an archive that was copied from a prior
// run's output tree.
func (a *Adapter) ReIndex(ctx context.Context, dir string) error {
	return a.manage(ctx, dir, "reindex")
}

func (a *Adapter) manage(ctx context.Context, dir, verb string) error {
	cmd := exec.CommandContext(ctx, a.managerBin, verb, filepath.Base(dir))
	cmd.Dir = filepath.Dir(dir)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("archive %s %q: %w: %s", verb, dir, err, out)
	}
	return nil
}

// Start launches the proxy server against the collection at dir on an
// ephemeral free port and waits until it accepts connections.
//
// The returned handle owns the server process; the caller must point the
// browser session's proxy at Endpoint(port) and register the handle for
// teardown. Death of the process before an explicit Stop is fatal for
// the owning session.
func (a *Adapter) Start(ctx context.Context, dir string, opts StartOptions) (*proc.Handle, int, error) {
	port, err := FreePort()
	if err != nil {
		return nil, 0, fmt.Errorf("archive proxy port allocation: %w", err)
	}

	args := []string{
		"--port", strconv.Itoa(port),
		"--proxy", filepath.Base(dir),
	}
	if opts.Record {
		args = append(args, "--proxy-record")
	}

	procOpts := []proc.Option{proc.WithDir(filepath.Dir(dir))}
	if opts.Upstream != nil {
		// Non-replayed traffic leaves through the upstream proxy.
		server := opts.Upstream.Server()
		procOpts = append(procOpts, proc.WithEnv("HTTP_PROXY="+server, "HTTPS_PROXY="+server))
	}

	handle, err := proc.Start("archive-proxy", a.serverBin, args, procOpts...)
	if err != nil {
		return nil, 0, err
	}

	if err := waitReady(ctx, handle, port); err != nil {
		_ = handle.Stop()
		return nil, 0, err
	}

	return handle, port, nil
}

// Endpoint returns the local proxy address for port. The endpoint is
// plain HTTP from the browser's point of view; the proxy terminates TLS
// itself, which is why sessions ignore TLS errors against it.
func Endpoint(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// FreePort binds an ephemeral port, records it, and releases it.
// The usual bind race applies; the proxy re-binds immediately after.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}

// waitReady polls the proxy port until it accepts a connection, the
// process dies, the context is canceled, or the timeout elapses.
func waitReady(ctx context.Context, handle *proc.Handle, port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.After(readyTimeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-handle.Done():
			return fmt.Errorf("archive proxy exited before becoming ready: %v", handle.ExitErr())
		case <-deadline:
			return fmt.Errorf("archive proxy not ready on %s after %s", addr, readyTimeout)
		case <-tick.C:
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err == nil {
				return conn.Close()
			}
		}
	}
}
