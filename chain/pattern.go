// Package chain drives sequences of runs, each consuming the sealed
// output of the previous one, with resumable on-disk progress.
package chain

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPattern names run directories run000001, run000002, ...
const DefaultPattern = "run%06d"

var placeholderRe = regexp.MustCompile(`%0\d+d`)

// ValidatePattern checks that pattern contains exactly one zero-padded
// integer placeholder (e.g. %06d) and nothing else printf would expand.
// Zero padding keeps directory listings in run order.
func ValidatePattern(pattern string) error {
	matches := placeholderRe.FindAllString(pattern, -1)
	if len(matches) != 1 {
		return fmt.Errorf("chain pattern %q must contain exactly one zero-padded placeholder like %%06d", pattern)
	}
	stripped := strings.Replace(pattern, matches[0], "", 1)
	if strings.Contains(stripped, "%") {
		return fmt.Errorf("chain pattern %q contains stray %% directives", pattern)
	}
	return nil
}

// FormatRunDir renders the run directory name for a chain index.
func FormatRunDir(pattern string, index int) string {
	return fmt.Sprintf(pattern, index)
}
