// Package status tracks run state on disk for the local-mode surface and
// prices token usage into the run's cost report.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/treadline-ai/treadline/internal/observability"
)

// Run states. A run moves idle → running → success|failed.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateSuccess = "success"
	StateFailed  = "failed"
)

const (
	statusFile   = "job_status.json"
	manifestFile = "run_manifest.json"
)

// Progress counts CAMs through a run.
type Progress struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Snapshot is the wire shape of job_status.json.
type Snapshot struct {
	State        string      `json:"state"`
	RunID        string      `json:"run_id"`
	StartedAt    *time.Time  `json:"started_at"`
	EndedAt      *time.Time  `json:"ended_at"`
	HeartbeatTS  *time.Time  `json:"heartbeat_ts"`
	LastLogLine  string      `json:"last_log_line"`
	OutputFile   *string     `json:"output_file"`
	ErrorSummary *string     `json:"error_summary"`
	Progress     Progress    `json:"progress"`
	Report       *CostReport `json:"report,omitempty"`
}

// Manifest records what a run executed, written once at the end.
type Manifest struct {
	Mode   string   `json:"mode"`
	Stages []string `json:"stages"`
}

// Tracker owns the authoritative run state. Every mutation stamps a
// heartbeat and, in local mode, rewrites the status file; in cloud mode
// state is kept in memory only. Write failures are logged, never fatal:
// the tracker observes the run, it must not kill it.
type Tracker struct {
	dir    string
	local  bool
	logger *observability.Logger

	mu       sync.Mutex
	snap     Snapshot
	manifest Manifest
}

// NewTracker creates a tracker for the given run writing under dir. The
// mode string is recorded in the manifest; only "local" enables disk
// writes.
func NewTracker(runID, dir, mode string, logger *observability.Logger) *Tracker {
	t := &Tracker{
		dir:    dir,
		local:  mode == "local",
		logger: logger.WithRun(runID),
		snap: Snapshot{
			State:       StateIdle,
			RunID:       runID,
			LastLogLine: "Initialized",
		},
		manifest: Manifest{Mode: mode, Stages: []string{}},
	}

	if t.local {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.logger.Error().Err(err).Str("dir", dir).Msg("create status dir failed")
		}
	}
	return t
}

// SetState moves the run to a new state. Entering running stamps
// started_at once; the terminal states stamp ended_at.
func (t *Tracker) SetState(state string) {
	t.update(func(s *Snapshot) {
		s.State = state
		now := time.Now()
		switch {
		case state == StateRunning && s.StartedAt == nil:
			s.StartedAt = &now
		case state == StateSuccess || state == StateFailed:
			s.EndedAt = &now
		}
	})
}

// Log records the line shown as the run's latest activity.
func (t *Tracker) Log(line string) {
	t.update(func(s *Snapshot) {
		s.LastLogLine = line
	})
}

// Fail marks the run failed with a summary of the terminal error.
func (t *Tracker) Fail(summary string) {
	t.update(func(s *Snapshot) {
		s.State = StateFailed
		now := time.Now()
		s.EndedAt = &now
		s.ErrorSummary = &summary
	})
}

// SetProgress replaces the run's CAM counters.
func (t *Tracker) SetProgress(p Progress) {
	t.update(func(s *Snapshot) {
		s.Progress = p
	})
}

// SetOutputFile records the artifact basename the run produced.
func (t *Tracker) SetOutputFile(name string) {
	t.update(func(s *Snapshot) {
		s.OutputFile = &name
	})
}

// SetReport attaches the final cost report.
func (t *Tracker) SetReport(r *CostReport) {
	t.update(func(s *Snapshot) {
		s.Report = r
	})
}

// Heartbeat refreshes heartbeat_ts without changing anything else.
func (t *Tracker) Heartbeat() {
	t.update(func(*Snapshot) {})
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// RecordStage appends a stage name to the run manifest.
func (t *Tracker) RecordStage(name string) {
	t.mu.Lock()
	t.manifest.Stages = append(t.manifest.Stages, name)
	t.mu.Unlock()
}

// SaveManifest writes the run manifest. Local mode only.
func (t *Tracker) SaveManifest() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.local {
		return
	}

	data, err := json.MarshalIndent(t.manifest, "", "  ")
	if err != nil {
		t.logger.Error().Err(err).Msg("encode manifest failed")
		return
	}
	path := filepath.Join(t.dir, manifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.logger.Error().Err(err).Str("path", path).Msg("write manifest failed")
		return
	}
	t.logger.Info().Str("path", path).Msg("manifest saved")
}

func (t *Tracker) update(mutate func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.snap.HeartbeatTS = &now
	mutate(&t.snap)

	if !t.local {
		return
	}
	data, err := json.MarshalIndent(t.snap, "", "  ")
	if err != nil {
		t.logger.Error().Err(err).Msg("encode status failed")
		return
	}
	if err := os.WriteFile(filepath.Join(t.dir, statusFile), data, 0o644); err != nil {
		t.logger.Error().Err(err).Msg("write status file failed")
	}
}

// ReadSnapshot loads the status file from dir; used by the runner's
// status command.
func ReadSnapshot(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, statusFile))
	if err != nil {
		return nil, fmt.Errorf("read status file: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode status file: %w", err)
	}
	return &s, nil
}
