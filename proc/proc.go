// Package proc manages owned helper subprocesses (archival proxies,
// display servers). Every handle is owned by exactly one session and
// stopped exactly once; Stop is idempotent and kills the whole process
// group so child processes cannot outlive their owner.
package proc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// stopGrace is how long Stop waits after SIGTERM before escalating to
// SIGKILL on the process group.
const stopGrace = 5 * time.Second

// Handle is a running helper subprocess.
type Handle struct {
	name string
	cmd  *exec.Cmd

	// done is closed by the reaper goroutine once the process exits.
	done chan struct{}

	mu       sync.Mutex
	exitErr  error
	stopping bool

	stopOnce sync.Once
	stopErr  error
}

// Option configures a subprocess before start.
type Option func(*exec.Cmd)

// WithDir sets the working directory.
func WithDir(dir string) Option {
	return func(c *exec.Cmd) { c.Dir = dir }
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(c *exec.Cmd) {
		if c.Env == nil {
			c.Env = os.Environ()
		}
		c.Env = append(c.Env, env...)
	}
}

// WithStderr routes the subprocess's stderr to the given file.
func WithStderr(f *os.File) Option {
	return func(c *exec.Cmd) { c.Stderr = f }
}

// Start launches a subprocess in its own process group and begins
// reaping it in the background. name is a short label used in errors.
func Start(name, bin string, args []string, opts ...Option) (*Handle, error) {
	cmd := exec.Command(bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	for _, opt := range opts {
		opt(cmd)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s (%s): %w", name, bin, err)
	}

	h := &Handle{
		name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

// Name returns the handle's label.
func (h *Handle) Name() string { return h.name }

// PID returns the subprocess's PID.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done returns a channel closed when the process exits, whether stopped
// or crashed. Use Stopping to tell the two apart.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stopping reports whether Stop has been requested. An exit observed
// while Stopping is false is an unexpected death.
func (h *Handle) Stopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// ExitErr returns the process's exit error once it has exited.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Stop terminates the process group: SIGTERM first, SIGKILL after a
// grace period. Safe to call multiple times and after the process has
// already exited; only the first call does any work.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopping = true
		h.mu.Unlock()

		select {
		case <-h.done:
			return // already exited
		default:
		}

		pgid := -h.cmd.Process.Pid
		_ = syscall.Kill(pgid, syscall.SIGTERM)

		select {
		case <-h.done:
			return
		case <-time.After(stopGrace):
		}

		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-h.done
	})
	return h.stopErr
}

// Close implements io.Closer over Stop so handles can be registered
// with cleanup helpers.
func (h *Handle) Close() error { return h.Stop() }
