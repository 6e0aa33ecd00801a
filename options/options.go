// Package options implements layered run-option resolution.
//
// Options are flat JSON objects merged in precedence order:
// defaults < script-level file < input-level file < caller overrides.
// The merge is shallow: later layers replace top-level keys wholesale,
// nested objects are never deep-merged.
package options

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Options is a resolved flat option mapping. Treat a resolved mapping as
// immutable; Merge returns a new mapping rather than mutating.
type Options map[string]any

// MissingKeyError reports a required key absent from every layer.
type MissingKeyError struct {
	// Key is the missing option name.
	Key string
	// Searched lists the file paths that were merged, in order.
	Searched []string
}

func (e *MissingKeyError) Error() string {
	if len(e.Searched) == 0 {
		return fmt.Sprintf("required option %q not found (no option files searched)", e.Key)
	}
	return fmt.Sprintf("required option %q not found in any of: %s", e.Key, strings.Join(e.Searched, ", "))
}

// Resolve builds an option mapping from defaults plus the given files,
// merged in order (later wins), then verifies every required key is
// present. Each path must exist and contain a single JSON object.
func Resolve(paths []string, defaults Options, required []string) (Options, error) {
	resolved := make(Options, len(defaults))
	for k, v := range defaults {
		resolved[k] = v
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read option file %q: %w", path, err)
		}

		var layer map[string]any
		if err := json.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("invalid JSON in option file %q: %w", path, err)
		}

		for k, v := range layer {
			resolved[k] = v
		}
	}

	for _, key := range required {
		if _, ok := resolved[key]; !ok {
			return nil, &MissingKeyError{Key: key, Searched: paths}
		}
	}

	return resolved, nil
}

// ExistingFiles filters candidate directories down to the paths of those
// that actually contain the named file, preserving precedence order.
// Empty directory names are skipped.
func ExistingFiles(name string, dirs ...string) []string {
	var paths []string
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			paths = append(paths, path)
		}
	}
	return paths
}

// Merge returns a copy of o with every key from over replacing o's.
// Used for caller overrides, which always win.
func (o Options) Merge(over Options) Options {
	merged := make(Options, len(o)+len(over))
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the string value of key, or "" when absent or not a
// string.
func (o Options) String(key string) string {
	if s, ok := o[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the boolean value of key. Absent keys and non-boolean
// values are false.
func (o Options) Bool(key string) bool {
	if b, ok := o[key].(bool); ok {
		return b
	}
	return false
}

// Int returns the integer value of key. JSON numbers decode as float64,
// so both int and float64 representations are accepted.
func (o Options) Int(key string) int {
	switch v := o[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float returns the numeric value of key, or def when the key is absent
// or holds a non-number. A bare boolean true also yields def, so a flag
// given without a value falls back to its default magnitude.
func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// Redacted returns a copy safe for logs and run reports: values of
// secret-bearing keys are masked, including inside one level of
// nesting (proxy credentials live in an object value).
func (o Options) Redacted() map[string]any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		if secretKey(k) {
			out[k] = "[redacted]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			copied := make(map[string]any, len(nested))
			for nk, nv := range nested {
				if secretKey(nk) {
					copied[nk] = "[redacted]"
				} else {
					copied[nk] = nv
				}
			}
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}

func secretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "password") || strings.Contains(k, "secret") || strings.Contains(k, "token")
}
