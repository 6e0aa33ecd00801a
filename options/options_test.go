package options

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeJSON writes a JSON option file into dir and returns its path.
func writeJSON(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestResolve_LayerPrecedence(t *testing.T) {
	dir := t.TempDir()
	script := writeJSON(t, dir, "script.json", `{"script": "probe", "har": true, "timeout": 30}`)
	input := writeJSON(t, dir, "input.json", `{"timeout": 60, "replay": "read_only"}`)

	defaults := Options{"har": false, "trace": false}

	resolved, err := Resolve([]string{script, input}, defaults, []string{"script"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Later file wins.
	if got := resolved.Int("timeout"); got != 60 {
		t.Errorf("timeout = %d, want 60 (input layer wins)", got)
	}
	// Earlier file beats defaults.
	if !resolved.Bool("har") {
		t.Error("har should come from the script layer, not the default")
	}
	// Defaults survive when undefined in any file.
	if resolved.Bool("trace") {
		t.Error("trace default should be false")
	}
	if got := resolved.String("replay"); got != "read_only" {
		t.Errorf("replay = %q, want read_only", got)
	}
}

func TestResolve_NestedObjectsReplace(t *testing.T) {
	dir := t.TempDir()
	first := writeJSON(t, dir, "a.json", `{"viewport": {"width": 1280, "height": 720}}`)
	second := writeJSON(t, dir, "b.json", `{"viewport": {"width": 800}}`)

	resolved, err := Resolve([]string{first, second}, nil, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	viewport, ok := resolved["viewport"].(map[string]any)
	if !ok {
		t.Fatalf("viewport missing or wrong type: %T", resolved["viewport"])
	}
	if _, hasHeight := viewport["height"]; hasHeight {
		t.Error("nested objects must replace, not deep-merge")
	}
}

func TestResolve_MissingRequiredKey(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, "a.json", `{"har": true}`)

	_, err := Resolve([]string{path}, nil, []string{"script"})
	if err == nil {
		t.Fatal("expected error for missing required key")
	}

	var missing *MissingKeyError
	if !errors.As(err, &missing) {
		t.Fatalf("error type = %T, want *MissingKeyError", err)
	}
	if missing.Key != "script" {
		t.Errorf("missing key = %q, want script", missing.Key)
	}
	if len(missing.Searched) != 1 || missing.Searched[0] != path {
		t.Errorf("searched paths = %v, want [%s]", missing.Searched, path)
	}
}

func TestResolve_RequiredSatisfiedByDefault(t *testing.T) {
	resolved, err := Resolve(nil, Options{"script": "probe"}, []string{"script"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := resolved.String("script"); got != "probe" {
		t.Errorf("script = %q, want probe", got)
	}
}

func TestResolve_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, "bad.json", `{"script": `)

	if _, err := Resolve([]string{path}, nil, nil); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestExistingFiles(t *testing.T) {
	withFile := t.TempDir()
	without := t.TempDir()
	writeJSON(t, withFile, "config.json", `{}`)

	paths := ExistingFiles("config.json", without, withFile, "", "/nonexistent-dir")
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(paths))
	}
	if paths[0] != filepath.Join(withFile, "config.json") {
		t.Errorf("unexpected path %q", paths[0])
	}
}

func TestMerge_OverridesWin(t *testing.T) {
	base := Options{"har": false, "script": "probe"}
	merged := base.Merge(Options{"har": true})

	if !merged.Bool("har") {
		t.Error("override should win")
	}
	if base.Bool("har") {
		t.Error("Merge must not mutate the receiver")
	}
	if merged.String("script") != "probe" {
		t.Error("unrelated keys must survive the merge")
	}
}

func TestOptions_FloatFlagWithoutValue(t *testing.T) {
	// A flag given as bare `true` falls back to the default magnitude.
	o := Options{"video_scale": true}
	if got := o.Float("video_scale", 1.0); got != 1.0 {
		t.Errorf("Float = %v, want default 1.0", got)
	}

	o = Options{"video_scale": 0.5}
	if got := o.Float("video_scale", 1.0); got != 0.5 {
		t.Errorf("Float = %v, want 0.5", got)
	}
}
