// Package monitor reconciles production-run status from a live job
// handle or, after a controller restart, from the artifacts on disk.
// Every detected terminal transition is persisted immediately so a
// later query returns the right answer without the process handle.
package monitor

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/deixis/mdpilot/internal/mdlog"
	"github.com/deixis/mdpilot/internal/runner"
	"github.com/deixis/mdpilot/internal/session"
)

// fatalMarker is what mdrun prints to its log before aborting.
const fatalMarker = "Fatal error"

// DefaultTailBytes bounds log inspection regardless of log size.
const DefaultTailBytes = 32 * 1024

// Monitor evaluates and persists session run status.
type Monitor struct {
	Store     *session.Store
	TailBytes int
}

// Report is the status-query surface.
type Report struct {
	Running  bool           `json:"running"`
	Status   session.Status `json:"status"`
	PID      int            `json:"pid,omitempty"`
	ExitCode *int           `json:"exit_code,omitempty"`
}

func (m *Monitor) tailBytes() int {
	if m.TailBytes > 0 {
		return m.TailBytes
	}
	return DefaultTailBytes
}

// Status evaluates the session's run status. It never fails: an
// unreadable log or malformed metadata degrades to standby rather
// than surfacing an error to pollers.
//
// Priority order: a persisted terminal status is final; with a live
// handle, the log's step counter beats process liveness and a fresh
// fatal marker beats both; a dead process falls back to its exit
// code; without a handle, the same log conditions are reconciled from
// the durable metadata alone.
func (m *Monitor) Status(s *session.Session) Report {
	meta := m.Store.ReadMeta(s)
	if meta.RunStatus.Terminal() {
		s.ClearJob()
		return Report{Status: meta.RunStatus, PID: meta.PID, ExitCode: meta.ExitCode}
	}

	if job := s.Job(); job != nil {
		logPath := filepath.Join(s.WorkDir, job.OutputPrefix+".log")
		if status := m.logVerdict(logPath, job.ExpectedSteps, job.StartedAt); status != "" {
			return m.finish(s, status, job.PID(), job, nil)
		}
		if job.Alive() {
			return Report{Running: true, Status: session.Running, PID: job.PID()}
		}
		code, _ := job.ExitCode()
		status := session.Finished
		if code != 0 {
			status = session.Failed
		}
		return m.finish(s, status, job.PID(), job, &code)
	}

	// No handle (e.g. controller restarted): reconcile from disk.
	if meta.RunStatus == session.Running && meta.OutputPrefix != "" {
		logPath := filepath.Join(s.WorkDir, meta.OutputPrefix+".log")
		if status := m.logVerdict(logPath, meta.ExpectedSteps, meta.StartedAt); status != "" {
			return m.finish(s, status, meta.PID, nil, nil)
		}
	}

	return Report{Status: session.Standby}
}

// finish persists a terminal transition, clears the job handle, and
// returns the terminal report. A finished process is left untouched,
// since mdrun keeps flushing output after the step counter completes;
// only a failed one is torn down.
func (m *Monitor) finish(s *session.Session, status session.Status, pid int, job *runner.Job, exitCode *int) Report {
	// Persistence failures leave the in-memory verdict intact; the
	// next poll retries the write.
	_ = m.Store.SetStatus(s, status, exitCode)
	s.ClearJob()
	if status == session.Failed {
		s.Runner.Terminate()
	} else {
		s.Runner.Release(job)
	}
	return Report{Status: status, PID: pid, ExitCode: exitCode}
}

// logVerdict inspects a bounded tail of the production log. A step
// counter at or past the expected total means finished even while the
// OS process is still alive (post-processing must not read as
// running). A fatal marker only counts when the log was modified at
// or after the launch timestamp, so stale logs from a previous run
// are ignored. Returns "" when the log is inconclusive.
func (m *Monitor) logVerdict(logPath string, expectedSteps int64, startedAt time.Time) session.Status {
	if p, ok := mdlog.Scan(logPath, m.tailBytes()); ok {
		if expectedSteps > 0 && p.Step >= expectedSteps {
			return session.Finished
		}
	}

	info, err := os.Stat(logPath)
	if err != nil || info.ModTime().Before(startedAt) {
		return ""
	}
	tail, err := mdlog.ReadTail(logPath, m.tailBytes())
	if err != nil {
		return ""
	}
	if bytes.Contains(tail, []byte(fatalMarker)) {
		return session.Failed
	}
	return ""
}

// Stop terminates the session's production job: graceful signal, then
// timed escalation to a forceful kill. It reports whether a live job
// was actually stopped and persists the resulting terminal status.
// Stopping with nothing active is a no-op.
func (m *Monitor) Stop(s *session.Session) bool {
	job := s.Job()
	if job == nil {
		return s.Runner.Terminate()
	}
	stopped := job.Terminate()
	if stopped {
		// Classify and persist the terminal state now that the
		// process is gone.
		m.Status(s)
	}
	return stopped
}
