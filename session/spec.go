// Package session builds and owns browser sessions: one independently
// configured persistent browser context per declared context name, wired
// to recording features and launched through the automation engine.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pithecene-io/seam/options"
	"github.com/pithecene-io/seam/types"
)

// browserOptionsFile is the per-context automation options file looked
// up under contexts/<name>/ in the script and input directories.
const browserOptionsFile = "browser.json"

// DiscoverContextNames returns the union of sub-directory names under
// the contexts folder of scriptDir and inputDir, sorted. When neither
// declares a context, the synthetic default name is returned so a run
// always has exactly one session per name.
func DiscoverContextNames(scriptDir, inputDir string) []string {
	seen := make(map[string]struct{})
	for _, dir := range []string{scriptDir, inputDir} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, types.ContextsDir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return []string{types.DefaultContextName}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildSpec resolves the context spec for one declared name.
//
// Automation options come from the layered browser.json files
// (script-dir < input-dir), with the caller's overrides applied last so
// they always win. Recording and replay toggles come from the resolved
// run options.
func BuildSpec(name, scriptDir, inputDir string, runOpts, overrides options.Options) (*types.ContextSpec, error) {
	var ctxDirs []string
	if scriptDir != "" {
		ctxDirs = append(ctxDirs, filepath.Join(scriptDir, types.ContextsDir, name))
	}
	if inputDir != "" {
		ctxDirs = append(ctxDirs, filepath.Join(inputDir, types.ContextsDir, name))
	}

	files := options.ExistingFiles(browserOptionsFile, ctxDirs...)
	automation, err := options.Resolve(files, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("context %q: %w", name, err)
	}
	automation = automation.Merge(overrides)

	replay, err := types.ParseReplayMode(runOpts.String("replay"))
	if err != nil {
		return nil, fmt.Errorf("context %q: %w", name, err)
	}

	spec := &types.ContextSpec{
		Name:        name,
		Automation:  map[string]any(automation),
		RecordHAR:   runOpts.Bool("har"),
		RecordTrace: runOpts.Bool("trace"),
		RecordVideo: runOpts.Bool("video") || runOpts.Has("video_scale"),
		VideoScale:  runOpts.Float("video_scale", 1.0),
		RecordWARC:  runOpts.Bool("warc"),
		Replay:      replay,
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Viewport returns the context's viewport from its automation options,
// falling back to the engine default.
func Viewport(spec *types.ContextSpec) (width, height int) {
	width, height = 1280, 720
	raw, ok := spec.Automation["viewport"].(map[string]any)
	if !ok {
		return width, height
	}
	if w, ok := raw["width"].(float64); ok && w > 0 {
		width = int(w)
	}
	if h, ok := raw["height"].(float64); ok && h > 0 {
		height = int(h)
	}
	return width, height
}

// Flavor returns the context's browser flavor, from the automation
// options first and the run options second.
func Flavor(spec *types.ContextSpec, runOpts options.Options) (types.BrowserFlavor, error) {
	name, _ := spec.Automation["browser"].(string)
	if name == "" {
		name = runOpts.String("browser")
	}
	return types.ParseBrowserFlavor(name)
}
