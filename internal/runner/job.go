package runner

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// LaunchSpec describes a non-blocking production launch.
type LaunchSpec struct {
	GPUDevice     string // accelerator attached to a container-wrapped run
	OutputPrefix  string // -deffnm prefix, relative to the working directory
	ExpectedSteps int64  // configured total step count, 0 if unknown
	SessionID     string // owning session
}

// Job is a non-blocking production run. Exactly one Job is active per
// Runner; it lives from launch until a terminal status is detected.
type Job struct {
	Tool          string
	OutputPrefix  string
	ExpectedSteps int64
	SessionID     string
	StartedAt     time.Time

	cmd     *exec.Cmd
	out     *limitWriter // merged stdout+stderr
	grace   time.Duration
	done    chan struct{}
	waitErr error

	termOnce sync.Once
}

// PID returns the OS process id of the job.
func (j *Job) PID() int {
	if j == nil || j.cmd.Process == nil {
		return 0
	}
	return j.cmd.Process.Pid
}

// Alive reports whether the process is still running.
func (j *Job) Alive() bool {
	if j == nil {
		return false
	}
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the process exit code. ok is false while the
// process is still running.
func (j *Job) ExitCode() (int, bool) {
	if j.Alive() {
		return 0, false
	}
	return j.cmd.ProcessState.ExitCode(), true
}

// Output returns a copy of the merged stdout+stderr captured so far.
func (j *Job) Output() []byte {
	if j == nil {
		return nil
	}
	return j.out.Snapshot()
}

// Wait blocks until the job finishes, up to timeout (0 means no
// bound). On timeout the process is killed and a TimeoutError is
// returned along with the result.
func (j *Job) Wait(timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		<-j.done
		return j.result(), nil
	}
	select {
	case <-j.done:
		return j.result(), nil
	case <-time.After(timeout):
		_ = j.cmd.Process.Kill()
		<-j.done
		res := j.result()
		res.TimedOut = true
		return res, &TimeoutError{Tool: j.Tool, Timeout: timeout}
	}
}

// Terminate sends SIGTERM, waits the grace period, and escalates to
// SIGKILL if the process is still alive. It reports whether a live
// process was stopped; calling it with the process already gone is a
// no-op.
func (j *Job) Terminate() bool {
	if j == nil || !j.Alive() {
		return false
	}
	j.termOnce.Do(func() {
		_ = j.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-j.done:
		case <-time.After(j.grace):
			_ = j.cmd.Process.Kill()
			<-j.done
		}
	})
	return true
}

func (j *Job) result() *Result {
	return &Result{
		ExitCode: j.cmd.ProcessState.ExitCode(),
		Stdout:   j.out.Snapshot(),
		Stderr:   nil, // merged into Stdout at launch
	}
}
