// Package script defines the contract between the run engine and user
// scripts, and the registry scripts are resolved from by name.
package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/seam/session"
)

// ErrNotImplemented marks engine surfaces that resolve scripts from
// outside the process, such as loading compiled plugins from a script
// directory.
var ErrNotImplemented = errors.New("not implemented")

// Env is everything a script may touch during a run: its sessions,
// keyed by context name, and the run's three directories. Scripts must
// treat ScriptDir and InputDir as read-only and write only under
// OutputDir.
type Env struct {
	Sessions  map[string]*session.Session
	ScriptDir string
	InputDir  string
	OutputDir string
}

// Default returns the session for the default (or only) context.
// Convenience for the common single-context script.
func (e *Env) Default() *session.Session {
	if len(e.Sessions) == 1 {
		for _, s := range e.Sessions {
			return s
		}
	}
	return e.Sessions["default"]
}

// Script is a unit of browser automation executed once per run.
type Script interface {
	// Info identifies the script in logs and run reports.
	Info() Info

	// Run drives the sessions. The returned flag reports whether a
	// subsequent chained run would be useful; it is ignored for
	// standalone runs. An error makes the run non-chainable regardless
	// of the flag.
	Run(ctx context.Context, env *Env) (chainable bool, err error)
}

// Info identifies a script.
type Info struct {
	Name    string
	Version string
}

// Registry maps script names to implementations. The zero value is
// ready to use.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]Script
}

// Register adds a script under its Info name. Registering a duplicate
// name is a programmer error and panics, matching the stdlib driver
// registration convention.
func (r *Registry) Register(s Script) {
	name := s.Info().Name
	if name == "" {
		panic("script: Register with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scripts == nil {
		r.scripts = make(map[string]Script)
	}
	if _, dup := r.scripts[name]; dup {
		panic(fmt.Sprintf("script: Register called twice for %q", name))
	}
	r.scripts[name] = s
}

// Lookup resolves a script by name.
func (r *Registry) Lookup(name string) (Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.scripts[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("script %q not registered (have %v)", name, r.names())
}

// Names returns the registered script names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadExternal would resolve a script from compiled artifacts in the
// script directory instead of the in-process registry.
func (r *Registry) LoadExternal(dir, name string) (Script, error) {
	return nil, fmt.Errorf("load script %q from %s: %w", name, dir, ErrNotImplemented)
}

// DefaultRegistry is the process-wide registry the CLI resolves from.
var DefaultRegistry = &Registry{}

// Register adds a script to the default registry.
func Register(s Script) { DefaultRegistry.Register(s) }

// Func adapts a plain function into a Script.
type Func struct {
	Meta Info
	Fn   func(ctx context.Context, env *Env) (bool, error)
}

// Info implements Script.
func (f Func) Info() Info { return f.Meta }

// Run implements Script.
func (f Func) Run(ctx context.Context, env *Env) (bool, error) { return f.Fn(ctx, env) }
