package types

// RunPhase is the per-run state machine position. Phases advance strictly
// forward; PhaseLocked is terminal regardless of the chainable outcome.
type RunPhase string

const (
	// PhaseValidating checks directories and resolved options.
	PhaseValidating RunPhase = "validating"
	// PhasePreparingSessions instantiates all browser contexts.
	PhasePreparingSessions RunPhase = "preparing_sessions"
	// PhaseExecutingScript hands the sessions to the user script.
	PhaseExecutingScript RunPhase = "executing_script"
	// PhaseTearingDown stops tracing and closes every session.
	PhaseTearingDown RunPhase = "tearing_down"
	// PhaseHashing computes the output tree's content hash.
	PhaseHashing RunPhase = "hashing"
	// PhaseLocked marks the output tree hashed and read-only.
	PhaseLocked RunPhase = "locked"
)

// SentinelFile is the identity sentinel written to the output directory
// root after finalization. Its content is the hex content hash of the
// finished tree; writing it triggers the recursive read-only lock.
const SentinelFile = "seam.sum"

// InputSentinelFile is the name under which a prior run's identity
// sentinel is copied forward into the next run's output tree.
const InputSentinelFile = "input.sum"
