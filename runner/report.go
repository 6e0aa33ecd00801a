package runner

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/seam/fsio"
)

// Report is the machine-readable run summary written to
// logs/report.msgpack inside the output tree before sealing. Because it
// is written pre-seal it is covered by the tree hash and therefore
// cannot contain it; OutputHash is populated in memory for callers but
// the persisted copy carries an empty hash.
type Report struct {
	RunID         string    `msgpack:"run_id"`
	Version       string    `msgpack:"version"`
	Script        string    `msgpack:"script"`
	ScriptVersion string    `msgpack:"script_version"`
	ChainIndex    int       `msgpack:"chain_index"`
	StartedAt     time.Time `msgpack:"started_at"`
	FinishedAt    time.Time `msgpack:"finished_at"`

	// Phase is the last phase reached before finalization.
	Phase     string `msgpack:"phase"`
	Chainable bool   `msgpack:"chainable"`
	Error     string `msgpack:"error,omitempty"`

	// Options is the redacted resolved option mapping.
	Options map[string]any `msgpack:"options"`

	Contexts []ContextReport `msgpack:"contexts"`

	OutputHash string `msgpack:"-"`
}

// ContextReport summarizes one context's session.
type ContextReport struct {
	Name          string `msgpack:"name"`
	ProxyEndpoint string `msgpack:"proxy_endpoint,omitempty"`
	RecordedHAR   bool   `msgpack:"recorded_har"`
	RecordedVideo bool   `msgpack:"recorded_video"`
	RecordedWARC  bool   `msgpack:"recorded_warc"`
	Replay        string `msgpack:"replay"`
	CrashedHelper string `msgpack:"crashed_helper,omitempty"`
}

func writeReport(path string, report *Report) error {
	data, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	return fsio.WriteFileAtomic(path, data, 0o644)
}

// ReadReport loads a run report from a sealed output tree.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := msgpack.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode run report %q: %w", path, err)
	}
	return &report, nil
}
