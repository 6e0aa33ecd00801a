package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/seam/fsio"
	"github.com/pithecene-io/seam/types"
)

// StateFile is the chain's progress record, kept in the chain base
// directory next to the run directories.
const StateFile = "chain.state"

// StateError reports an unreadable or invalid state file. The chain
// refuses to guess: a corrupted state file stops everything rather than
// risk overwriting or mis-ordering sealed runs.
type StateError struct {
	Path string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("chain state %s: %v", e.Path, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// LoadState reads the chain state from baseDir. A missing file is not
// an error and returns nil; the chain simply has not completed a run
// yet.
func LoadState(baseDir string) (*types.ChainState, error) {
	path := filepath.Join(baseDir, StateFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &StateError{Path: path, Err: err}
	}

	var st types.ChainState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &StateError{Path: path, Err: err}
	}
	if err := st.Validate(); err != nil {
		return nil, &StateError{Path: path, Err: err}
	}
	return &st, nil
}

// SaveState atomically writes the chain state. Called only after a run
// has been sealed, so a crash between runs never records progress that
// did not happen.
func SaveState(baseDir string, st types.ChainState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return fsio.WriteFileAtomic(filepath.Join(baseDir, StateFile), append(data, '\n'), 0o644)
}
