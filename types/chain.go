// Package types defines core domain types for the seam engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// ChainState is the persisted resume point of a chain, stored once per
// parent output directory and rewritten after each completed run.
// Absence of the state file means the chain has not completed a run yet.
type ChainState struct {
	// NextIndex is the index the next run will receive. It increases by
	// exactly 1 per completed run.
	NextIndex int `json:"next_index"`
	// Previous is the directory name of the last completed run.
	Previous string `json:"previous"`
}

// Validate checks the state invariants. The state file is only ever
// written after a completed run, so a loaded state must always name the
// run that produced it.
func (s *ChainState) Validate() error {
	if s.NextIndex < 2 {
		return fmt.Errorf("next_index must be >= 2, got %d", s.NextIndex)
	}

	if s.Previous == "" {
		return errors.New("previous run directory must be recorded")
	}

	return nil
}

// Advanced returns the successor state after completing run number index
// in the directory named dir.
func Advanced(index int, dir string) ChainState {
	return ChainState{
		NextIndex: index + 1,
		Previous:  dir,
	}
}
