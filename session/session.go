package session

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/proc"
	"github.com/pithecene-io/seam/types"
)

// Output file names inside a context's output directory.
const (
	UserDataDir = "userData"
	VideoDir    = "video"
	WARCDir     = "warcs"
	HARFile     = "archive.har"
	TraceFile   = "trace.zip"
	OptionsFile = "browser-options.json"
)

// Session is one live browser context plus everything it owns: the
// persistent context, its initial page, and the helper subprocesses
// (archival proxy, virtual display) started on its behalf.
//
// Fields are exported so callers outside the launch path can assemble
// sessions around pre-built contexts; all methods tolerate nil
// automation handles.
type Session struct {
	Spec      *types.ContextSpec
	Context   playwright.BrowserContext
	Page      playwright.Page
	OutputDir string

	// ProxyEndpoint is the local archival proxy address the context's
	// traffic flows through, empty when no local proxy is attached.
	ProxyEndpoint string

	// Tracing is set while an engine trace is being captured.
	Tracing bool

	logger *log.Logger

	mu    sync.Mutex
	procs []*proc.Handle

	closeOnce sync.Once
	closeErr  error
}

// Own registers a helper subprocess with the session. Owned processes
// are stopped on Close in reverse registration order.
func (s *Session) Own(h *proc.Handle) {
	s.mu.Lock()
	s.procs = append(s.procs, h)
	s.mu.Unlock()
}

// Owned returns the session's registered helper processes.
func (s *Session) Owned() []*proc.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*proc.Handle, len(s.procs))
	copy(out, s.procs)
	return out
}

// CrashedHelper returns the first owned process that exited without a
// stop request, or nil. An unexpected helper death invalidates the
// session's recordings.
func (s *Session) CrashedHelper() *proc.Handle {
	for _, h := range s.Owned() {
		if !h.Alive() && !h.Stopping() {
			return h
		}
	}
	return nil
}

// StopTracing finishes the engine trace, writing it into the context's
// output directory. No-op when tracing is not active.
func (s *Session) StopTracing() error {
	if !s.Tracing || s.Context == nil {
		return nil
	}
	s.Tracing = false
	return s.Context.Tracing().Stop(filepath.Join(s.OutputDir, TraceFile))
}

// Close tears the session down: the browser context first so the
// engine flushes HAR and video artifacts, then every owned helper in
// reverse start order. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if err := s.StopTracing(); err != nil {
			errs = append(errs, err)
		}
		if s.Context != nil {
			if err := s.Context.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		owned := s.Owned()
		for i := len(owned) - 1; i >= 0; i-- {
			if err := owned[i].Stop(); err != nil {
				errs = append(errs, err)
			}
		}

		s.closeErr = errors.Join(errs...)
		if s.logger != nil {
			s.logger.Debug("session closed", map[string]any{
				"context": s.Spec.Name,
				"helpers": len(owned),
			})
		}
	})
	return s.closeErr
}

// Set is the full complement of sessions for one run, all-or-nothing:
// either every declared context launched or none survive.
type Set struct {
	pw       *playwright.Playwright
	sessions map[string]*Session

	closeOnce sync.Once
	closeErr  error
}

// NewSet assembles a set over already-launched sessions. pw may be nil
// when the sessions were built without a live engine.
func NewSet(pw *playwright.Playwright, sessions map[string]*Session) *Set {
	return &Set{pw: pw, sessions: sessions}
}

// Sessions returns the sessions keyed by context name.
func (s *Set) Sessions() map[string]*Session { return s.sessions }

// Get returns the session for a context name, or nil.
func (s *Set) Get(name string) *Session { return s.sessions[name] }

// Names returns the context names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopTracing finishes tracing on every session, keeping going past
// individual failures so one bad trace cannot block the others.
func (s *Set) StopTracing() error {
	var errs []error
	for _, name := range s.Names() {
		if err := s.sessions[name].StopTracing(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every session and stops the engine driver. Idempotent.
func (s *Set) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, name := range s.Names() {
			if err := s.sessions[name].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.pw != nil {
			if err := s.pw.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
