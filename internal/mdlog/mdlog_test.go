package mdlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "md.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScan(t *testing.T) {
	path := writeLog(t, `starting mdrun 'Protein in water'

           Step           Time
           1000        2.00000

Writing checkpoint, step 2000 at Sat Mar  1 12:00:00 2026

           Step           Time
           2000        4.00000
`)
	p, ok := Scan(path, 0)
	if !ok {
		t.Fatal("Scan found no progress")
	}
	// The last block wins.
	if p.Step != 2000 {
		t.Errorf("Step = %d, want 2000", p.Step)
	}
	if p.TimePS != 4.0 {
		t.Errorf("TimePS = %g, want 4", p.TimePS)
	}
	if p.NsPerDay != 0 {
		t.Errorf("NsPerDay = %g, want 0", p.NsPerDay)
	}
}

func TestScanPerformance(t *testing.T) {
	path := writeLog(t, `           Step           Time
          50000      100.00000

               Core t (s)   Wall t (s)        (%)
       Time:      120.000       30.000      400.0

Performance:      288.000        0.083
`)
	p, ok := Scan(path, 0)
	if !ok {
		t.Fatal("Scan found no progress")
	}
	if p.Step != 50000 {
		t.Errorf("Step = %d", p.Step)
	}
	if p.NsPerDay != 288 {
		t.Errorf("NsPerDay = %g, want 288", p.NsPerDay)
	}
}

func TestScanNoProgress(t *testing.T) {
	path := writeLog(t, "starting mdrun\nreading tpx file\n")
	if _, ok := Scan(path, 0); ok {
		t.Error("Scan reported progress from a log with no step block")
	}
}

func TestScanMissingFile(t *testing.T) {
	if _, ok := Scan(filepath.Join(t.TempDir(), "md.log"), 0); ok {
		t.Error("Scan reported progress for a missing file")
	}
}

func TestScanBoundedTail(t *testing.T) {
	// An early step block must fall outside a small tail window; only
	// the trailing block is visible.
	early := "           Step           Time\n           10        0.02000\n"
	filler := strings.Repeat("x", 8*1024) + "\n"
	late := "           Step           Time\n           9000       18.00000\n"
	path := writeLog(t, early+filler+late)

	p, ok := Scan(path, 1024)
	if !ok {
		t.Fatal("Scan found no progress in the tail")
	}
	if p.Step != 9000 {
		t.Errorf("Step = %d, want 9000", p.Step)
	}
}

func TestReadTail(t *testing.T) {
	path := writeLog(t, "0123456789")
	got, err := ReadTail(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "6789" {
		t.Errorf("ReadTail = %q, want 6789", got)
	}

	// Window larger than the file returns everything.
	got, err = ReadTail(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123456789" {
		t.Errorf("ReadTail = %q", got)
	}
}
