package script

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/pithecene-io/seam/session"
	"github.com/pithecene-io/seam/types"
)

func noop(name string) Script {
	return Func{
		Meta: Info{Name: name, Version: "1.0.0"},
		Fn:   func(context.Context, *Env) (bool, error) { return false, nil },
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	var r Registry
	r.Register(noop("crawl"))
	r.Register(noop("login"))

	s, err := r.Lookup("crawl")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if s.Info().Name != "crawl" {
		t.Errorf("Info().Name = %q", s.Info().Name)
	}

	if got := r.Names(); !reflect.DeepEqual(got, []string{"crawl", "login"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	var r Registry
	r.Register(noop("crawl"))

	if _, err := r.Lookup("harvest"); err == nil {
		t.Fatal("expected error for unregistered script")
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	var r Registry
	r.Register(noop("crawl"))

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should panic")
		}
	}()
	r.Register(noop("crawl"))
}

func TestRegistry_EmptyNamePanics(t *testing.T) {
	var r Registry
	defer func() {
		if recover() == nil {
			t.Error("empty name registration should panic")
		}
	}()
	r.Register(noop(""))
}

func TestRegistry_LoadExternal(t *testing.T) {
	var r Registry
	_, err := r.LoadExternal(t.TempDir(), "crawl")
	if !errors.Is(err, ErrNotImplemented) {
		t.Errorf("LoadExternal error = %v, want ErrNotImplemented", err)
	}
}

func TestEnv_Default(t *testing.T) {
	main := &session.Session{Spec: &types.ContextSpec{Name: "main"}}
	def := &session.Session{Spec: &types.ContextSpec{Name: types.DefaultContextName}}

	env := &Env{Sessions: map[string]*session.Session{"main": main}}
	if env.Default() != main {
		t.Error("single-context env should return its only session")
	}

	env = &Env{Sessions: map[string]*session.Session{
		"main":    main,
		"default": def,
	}}
	if env.Default() != def {
		t.Error("multi-context env should return the default context")
	}
}
