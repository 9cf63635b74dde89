// Package session tracks simulation sessions and persists their run
// metadata durably so status survives a controller restart.
package session

import (
	"sync"
	"time"

	"github.com/deixis/mdpilot/internal/config"
	"github.com/deixis/mdpilot/internal/runner"
)

// Status is the lifecycle state of a session's production run.
type Status string

const (
	Standby  Status = "standby"
	Running  Status = "running"
	Finished Status = "finished"
	Failed   Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == Finished || s == Failed
}

// Session is one simulation working directory with its configuration
// snapshot, runner, and at most one production job.
type Session struct {
	ID       string
	WorkDir  string
	Nickname string
	Config   *config.Config
	Runner   *runner.Runner

	mu  sync.Mutex
	job *runner.Job
}

// Job returns the current production job handle, or nil.
func (s *Session) Job() *runner.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// SetJob installs the production job handle for this session.
func (s *Session) SetJob(j *runner.Job) {
	s.mu.Lock()
	s.job = j
	s.mu.Unlock()
}

// ClearJob drops the job handle. Called the moment a terminal status
// is detected.
func (s *Session) ClearJob() {
	s.SetJob(nil)
}

// Meta is the durable per-session metadata written to session.json.
// It is the only state that survives a controller restart.
type Meta struct {
	RunStatus     Status    `json:"run_status,omitempty"`
	PID           int       `json:"pid,omitempty"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	OutputPrefix  string    `json:"output_prefix,omitempty"`
	ExpectedSteps int64     `json:"expected_steps,omitempty"`
	Nickname      string    `json:"nickname,omitempty"`
}
