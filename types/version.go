package types

// Version is the canonical project version.
// The CLI, the run report format, and the chain-state format share this
// version under the lockstep versioning policy.
const Version = "0.3.0"
