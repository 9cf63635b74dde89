package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deixis/mdpilot/internal/config"
)

func TestCreateAndGet(t *testing.T) {
	st := NewStore()
	dir := filepath.Join(t.TempDir(), "run1")

	cfg := &config.Config{}
	s, err := st.Create(dir, "lysozyme", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" {
		t.Error("empty session ID")
	}
	if s.Nickname != "lysozyme" {
		t.Errorf("Nickname = %q", s.Nickname)
	}
	if s.Runner == nil || s.Runner.WorkDir != dir {
		t.Error("runner not bound to the working directory")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("working directory not created")
	}

	if got := st.Get(s.ID); got != s {
		t.Error("Get did not return the created session")
	}
	if got := st.Get("nope"); got != nil {
		t.Error("Get returned a session for an unknown id")
	}
}

func TestListOrdered(t *testing.T) {
	st := NewStore()
	base := t.TempDir()
	for _, name := range []string{"c", "a", "b"} {
		if _, err := st.Create(filepath.Join(base, name), "", &config.Config{}); err != nil {
			t.Fatal(err)
		}
	}
	list := st.List()
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].WorkDir > list[i].WorkDir {
			t.Errorf("List not ordered: %q before %q", list[i-1].WorkDir, list[i].WorkDir)
		}
	}
}

func TestDelete(t *testing.T) {
	st := NewStore()
	s, err := st.Create(t.TempDir(), "", &config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !st.Delete(s.ID) {
		t.Error("Delete = false for existing session")
	}
	if st.Get(s.ID) != nil {
		t.Error("session still present after Delete")
	}
	if st.Delete(s.ID) {
		t.Error("second Delete = true")
	}
}

func TestMetaRoundtrip(t *testing.T) {
	dir := t.TempDir()
	code := 0
	in := Meta{
		RunStatus:     Finished,
		PID:           4242,
		ExitCode:      &code,
		StartedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		OutputPrefix:  "simulation/md",
		ExpectedSteps: 5000000,
		Nickname:      "lysozyme",
	}
	if err := WriteMetaDir(dir, in); err != nil {
		t.Fatal(err)
	}

	out := ReadMetaDir(dir)
	if out.RunStatus != Finished || out.PID != 4242 || out.OutputPrefix != "simulation/md" {
		t.Errorf("ReadMetaDir = %+v", out)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Errorf("ExitCode = %v", out.ExitCode)
	}
	if out.ExpectedSteps != 5000000 {
		t.Errorf("ExpectedSteps = %d", out.ExpectedSteps)
	}
	if !out.StartedAt.Equal(in.StartedAt) {
		t.Errorf("StartedAt = %s", out.StartedAt)
	}
}

func TestReadMetaDegrades(t *testing.T) {
	// Absent file.
	if m := ReadMetaDir(t.TempDir()); m.RunStatus != "" {
		t.Errorf("absent file: %+v", m)
	}

	// Corrupt file.
	dir := t.TempDir()
	if err := os.WriteFile(MetaPath(dir), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if m := ReadMetaDir(dir); m.RunStatus != "" {
		t.Errorf("corrupt file: %+v", m)
	}
}

func TestSetStatusMonotonic(t *testing.T) {
	st := NewStore()
	s, err := st.Create(t.TempDir(), "", &config.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := st.SetStatus(s, Running, nil); err != nil {
		t.Fatal(err)
	}
	code := 1
	if err := st.SetStatus(s, Failed, &code); err != nil {
		t.Fatal(err)
	}

	// A later non-terminal write must not displace the terminal state.
	if err := st.SetStatus(s, Running, nil); err != nil {
		t.Fatal(err)
	}
	m := st.ReadMeta(s)
	if m.RunStatus != Failed {
		t.Errorf("RunStatus = %q after downgrade attempt", m.RunStatus)
	}
	if m.ExitCode == nil || *m.ExitCode != 1 {
		t.Errorf("ExitCode = %v", m.ExitCode)
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		Standby: false, Running: false, Finished: true, Failed: true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v", status, got)
		}
	}
}
