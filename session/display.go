package session

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pithecene-io/seam/proc"
)

// Default display stack binaries, overridable via seam.yaml.
const (
	DefaultXvfbBin = "Xvfb"
	DefaultVNCBin  = "x11vnc"
	DefaultWMBin   = "matchbox-window-manager"
)

// displayReadyTimeout bounds the wait for the X socket to appear.
const displayReadyTimeout = 5 * time.Second

// DisplayOptions configures a virtual display for headful sessions.
type DisplayOptions struct {
	XvfbBin string
	VNCBin  string
	WMBin   string

	Width  int
	Height int

	// VNCPassword protects the VNC endpoint; empty allows
	// passwordless viewing.
	VNCPassword string
}

// DisplayStack is a running Xvfb display with a VNC server and a
// window manager attached, started for one headful session.
type DisplayStack struct {
	// Display is the X display name, e.g. ":99".
	Display string

	handles []*proc.Handle
}

// Handles returns the stack's processes in start order so the owning
// session can register them for teardown.
func (d *DisplayStack) Handles() []*proc.Handle { return d.handles }

// StartDisplay launches Xvfb on a free display number, then the VNC
// server and window manager against it. On any failure everything
// already started is stopped before returning.
func StartDisplay(opts DisplayOptions) (*DisplayStack, error) {
	if opts.XvfbBin == "" {
		opts.XvfbBin = DefaultXvfbBin
	}
	if opts.VNCBin == "" {
		opts.VNCBin = DefaultVNCBin
	}
	if opts.WMBin == "" {
		opts.WMBin = DefaultWMBin
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}

	num, err := freeDisplay()
	if err != nil {
		return nil, err
	}
	display := ":" + strconv.Itoa(num)
	screen := fmt.Sprintf("%dx%dx24", opts.Width, opts.Height)

	stack := &DisplayStack{Display: display}
	fail := func(err error) (*DisplayStack, error) {
		for i := len(stack.handles) - 1; i >= 0; i-- {
			_ = stack.handles[i].Stop()
		}
		return nil, err
	}

	xvfb, err := proc.Start("xvfb", opts.XvfbBin, []string{display, "-screen", "0", screen, "-ac"})
	if err != nil {
		return nil, err
	}
	stack.handles = append(stack.handles, xvfb)

	if err := waitDisplay(xvfb, num); err != nil {
		return fail(err)
	}

	vncArgs := []string{"-display", display, "-forever", "-shared", "-quiet"}
	if opts.VNCPassword != "" {
		vncArgs = append(vncArgs, "-passwd", opts.VNCPassword)
	} else {
		vncArgs = append(vncArgs, "-nopw")
	}
	vnc, err := proc.Start("vnc", opts.VNCBin, vncArgs)
	if err != nil {
		return fail(err)
	}
	stack.handles = append(stack.handles, vnc)

	wm, err := proc.Start("wm", opts.WMBin, nil, proc.WithEnv("DISPLAY="+display))
	if err != nil {
		return fail(err)
	}
	stack.handles = append(stack.handles, wm)

	return stack, nil
}

// freeDisplay scans for an X display number whose socket is not taken.
// The usual race with other display servers applies; Xvfb fails fast
// if it loses it.
func freeDisplay() (int, error) {
	for num := 99; num < 300; num++ {
		if _, err := os.Stat(xSocket(num)); os.IsNotExist(err) {
			return num, nil
		}
	}
	return 0, fmt.Errorf("no free X display number in 99..299")
}

func xSocket(num int) string {
	return "/tmp/.X11-unix/X" + strconv.Itoa(num)
}

// waitDisplay polls for the X socket until it appears or Xvfb dies.
func waitDisplay(xvfb *proc.Handle, num int) error {
	deadline := time.After(displayReadyTimeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-xvfb.Done():
			return fmt.Errorf("display server exited during startup: %v", xvfb.ExitErr())
		case <-deadline:
			return fmt.Errorf("display :%d not ready after %s", num, displayReadyTimeout)
		case <-tick.C:
			if _, err := os.Stat(xSocket(num)); err == nil {
				return nil
			}
		}
	}
}
