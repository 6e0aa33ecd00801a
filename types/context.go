package types

import "fmt"

// DefaultContextName is the synthetic context name used when neither the
// script directory nor the input directory declares any context.
const DefaultContextName = "default"

// ContextsDir is the well-known folder under a script or input directory
// whose sub-directory names declare browser contexts.
const ContextsDir = "contexts"

// ReplayMode selects how archived traffic is served back to a session.
type ReplayMode string

const (
	// ReplayOff disables replay; the session talks to the live web.
	ReplayOff ReplayMode = "off"
	// ReplayReadOnly serves only archived responses.
	ReplayReadOnly ReplayMode = "read_only"
	// ReplayReadWrite serves archived responses and records misses.
	ReplayReadWrite ReplayMode = "read_write"
)

// ParseReplayMode parses a replay mode string. The empty string maps to
// ReplayOff.
func ParseReplayMode(s string) (ReplayMode, error) {
	switch ReplayMode(s) {
	case ReplayOff, "":
		return ReplayOff, nil
	case ReplayReadOnly, ReplayReadWrite:
		return ReplayMode(s), nil
	default:
		return "", fmt.Errorf("invalid replay mode %q: must be off, read_only, or read_write", s)
	}
}

// BrowserFlavor selects the automation engine's browser implementation.
type BrowserFlavor string

const (
	BrowserChromium BrowserFlavor = "chromium"
	BrowserFirefox  BrowserFlavor = "firefox"
	BrowserWebKit   BrowserFlavor = "webkit"
)

// ParseBrowserFlavor parses a browser flavor string. The empty string
// maps to BrowserChromium.
func ParseBrowserFlavor(s string) (BrowserFlavor, error) {
	switch BrowserFlavor(s) {
	case BrowserChromium, "":
		return BrowserChromium, nil
	case BrowserFirefox, BrowserWebKit:
		return BrowserFlavor(s), nil
	default:
		return "", fmt.Errorf("invalid browser flavor %q: must be chromium, firefox, or webkit", s)
	}
}

// ContextSpec describes one declared browser context before launch.
type ContextSpec struct {
	// Name is the context name, unique within a run.
	Name string
	// Automation holds the merged automation options (viewport, flavor,
	// engine-specific knobs) resolved from the layered browser.json files.
	Automation map[string]any
	// RecordHAR enables HTTP-archive recording for the context.
	RecordHAR bool
	// RecordTrace enables automation-engine tracing for the context.
	RecordTrace bool
	// RecordVideo enables video capture for the context.
	RecordVideo bool
	// VideoScale scales the recorded video relative to the viewport.
	VideoScale float64
	// RecordWARC enables record-only archival proxying.
	// Superseded by any replay mode other than ReplayOff.
	RecordWARC bool
	// Replay selects archival replay for the context.
	Replay ReplayMode
}

// Validate checks spec invariants before any session is created.
func (c *ContextSpec) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("context name must be non-empty")
	}
	if c.VideoScale < 0 {
		return fmt.Errorf("context %q: video scale must be positive, got %v", c.Name, c.VideoScale)
	}
	return nil
}
