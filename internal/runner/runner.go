// Package runner executes GROMACS tool invocations, blocking or
// non-blocking, optionally inside a container with the working
// directory bind-mounted.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Runner executes gmx subcommands in a working directory. At most one
// non-blocking production job is active per Runner.
type Runner struct {
	WorkDir     string
	Binary      string        // gmx executable, default "gmx"
	DockerImage string        // when set, invocations are container-wrapped
	Timeout     time.Duration // blocking invocation bound
	Grace       time.Duration // SIGTERM → SIGKILL escalation delay
	MaxOutput   int           // captured output cap in bytes

	mu  sync.Mutex
	job *Job
}

// TimeoutError reports a blocking invocation or wait that exceeded its bound.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s and was killed", e.Tool, e.Timeout)
}

func (r *Runner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "gmx"
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 30 * time.Minute
}

func (r *Runner) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return 5 * time.Second
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return 1 << 20
}

// BuildCommand returns the full argv for a tool invocation. When a
// container image is configured the invocation is wrapped in
// "docker run --rm -w /work -v <workdir>:/work [--gpus device=<gpu>]"
// so the tool sees the working directory bind-mounted at /work.
func (r *Runner) BuildCommand(args []string, gpu string) []string {
	if r.DockerImage == "" {
		return append([]string{r.binary()}, args...)
	}

	workDir := r.WorkDir
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	argv := []string{"docker", "run", "--rm", "-w", "/work", "-v", workDir + ":/work"}
	if gpu != "" {
		argv = append(argv, "--gpus", "device="+gpu)
	}
	argv = append(argv, r.DockerImage, r.binary())
	return append(argv, args...)
}

// Run executes a blocking gmx subcommand. stdin, when non-empty, is
// piped to the tool for interactive prompts (e.g. genion group
// selection). The invocation is bounded by the runner timeout; on
// timeout the process is killed and the result is a timeout failure.
func (r *Runner) Run(ctx context.Context, args []string, stdin string) (*Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty tool args")
	}
	argv := r.BuildCommand(args, "")

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.WorkDir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdout := &limitWriter{limit: r.maxOutput()}
	stderr := &limitWriter{limit: r.maxOutput()}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()

	res := &Result{
		Stdout:    stdout.Snapshot(),
		Stderr:    stderr.Snapshot(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		// exec.CommandContext already sent SIGKILL.
		res.TimedOut = true
		res.ExitCode = -1
		return res, &TimeoutError{Tool: args[0], Timeout: r.timeout()}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Binary not found or other exec error.
			return nil, fmt.Errorf("executing %s: %w", argv[0], runErr)
		}
	}
	return res, nil
}

// Active returns the current non-blocking job, or nil.
func (r *Runner) Active() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

// Terminate stops the active non-blocking job, if any, and releases
// the job slot. It reports whether a live job was actually stopped.
// Safe to call with nothing active.
func (r *Runner) Terminate() bool {
	r.mu.Lock()
	job := r.job
	r.job = nil
	r.mu.Unlock()
	if job == nil {
		return false
	}
	return job.Terminate()
}

// Release drops the job from the runner's slot without signaling it.
// Used once a run is observed terminal: the OS process may still be
// flushing its final output and is left alone to do so.
func (r *Runner) Release(job *Job) {
	r.mu.Lock()
	if job != nil && r.job == job {
		r.job = nil
	}
	r.mu.Unlock()
}

// Start launches a gmx subcommand non-blocking and returns a handle to
// it. The process's stderr is merged into its stdout for later
// tailing. Any previously active job is terminated first: the Runner
// owns a single job slot.
func (r *Runner) Start(args []string, spec LaunchSpec) (*Job, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty tool args")
	}
	r.Terminate()

	argv := r.BuildCommand(args, spec.GPUDevice)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.WorkDir

	w := &limitWriter{limit: r.maxOutput()}
	cmd.Stdout = w
	cmd.Stderr = w // merged stream

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launching %s: %w", argv[0], err)
	}

	job := &Job{
		Tool:          args[0],
		OutputPrefix:  spec.OutputPrefix,
		ExpectedSteps: spec.ExpectedSteps,
		SessionID:     spec.SessionID,
		StartedAt:     time.Now(),
		cmd:           cmd,
		out:           w,
		grace:         r.grace(),
		done:          make(chan struct{}),
	}
	go func() {
		job.waitErr = cmd.Wait()
		close(job.done)
	}()

	r.mu.Lock()
	r.job = job
	r.mu.Unlock()
	return job, nil
}

// limitWriter retains the trailing limit bytes written to it. GROMACS
// tools print their diagnostics last, so when output exceeds the cap
// the tail is the part worth keeping.
type limitWriter struct {
	mu    sync.Mutex
	buf   []byte
	limit int
	total int64
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.total += int64(len(p))
	if len(p) >= w.limit {
		w.buf = append(w.buf[:0], p[len(p)-w.limit:]...)
		return len(p), nil
	}
	if keep := w.limit - len(p); len(w.buf) > keep {
		w.buf = append(w.buf[:0], w.buf[len(w.buf)-keep:]...)
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Snapshot returns a copy of the retained tail.
func (w *limitWriter) Snapshot() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Clone(w.buf)
}

// Truncated reports whether more than limit bytes were written.
func (w *limitWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total > int64(w.limit)
}
