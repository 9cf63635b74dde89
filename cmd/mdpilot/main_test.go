package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/deixis/mdpilot/internal/session"
)

// spawn starts a detached shell process in dir and records it as the
// running production job in the durable metadata. The process is
// reaped in the background so liveness probes see it disappear.
func spawn(t *testing.T, dir, script string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	meta := session.Meta{
		RunStatus:     session.Running,
		PID:           cmd.Process.Pid,
		StartedAt:     time.Now().Add(-time.Hour),
		OutputPrefix:  "simulation/md",
		ExpectedSteps: 50000,
	}
	if err := session.WriteMetaDir(dir, meta); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestStopProductionKillsAndRecordsFailed(t *testing.T) {
	dir := t.TempDir()
	spawn(t, dir, "sleep 30")

	msg, err := stopProduction(dir, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "stopped" {
		t.Errorf("msg = %q, want stopped", msg)
	}

	meta := session.ReadMetaDir(dir)
	if meta.RunStatus != session.Failed {
		t.Errorf("RunStatus = %q, want failed", meta.RunStatus)
	}
	if meta.ExitCode == nil || *meta.ExitCode != -1 {
		t.Errorf("ExitCode = %v, want -1", meta.ExitCode)
	}
}

func TestStopProductionRecordsFinishedWhenRunCompleted(t *testing.T) {
	dir := t.TempDir()
	// The process finishes its run on SIGTERM: it writes the final
	// step to the log, then exits cleanly. Stop must classify that as
	// finished, not failed.
	script := `mkdir -p simulation
trap 'printf "           Step           Time\n          50000      100.00000\n" > simulation/md.log; exit 0' TERM
while true; do sleep 0.1; done`
	spawn(t, dir, script)

	if _, err := stopProduction(dir, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	meta := session.ReadMetaDir(dir)
	if meta.RunStatus != session.Finished {
		t.Errorf("RunStatus = %q, want finished", meta.RunStatus)
	}
}

func TestStopProductionNothingRunning(t *testing.T) {
	dir := t.TempDir()

	msg, err := stopProduction(dir, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "nothing is running" {
		t.Errorf("msg = %q", msg)
	}
	if _, err := os.Stat(filepath.Join(dir, session.MetaFile)); !os.IsNotExist(err) {
		t.Error("stop wrote metadata with nothing running")
	}
}
