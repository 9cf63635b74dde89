// Package mdlog extracts progress information from GROMACS mdrun log
// files. Only a bounded tail of the log is ever read, so scanning
// stays cheap on multi-gigabyte logs from long runs.
package mdlog

import (
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultTailBytes is the tail window scanned when the caller does not
// specify one.
const DefaultTailBytes = 32 * 1024

// Progress holds the most recent progress entry found in an mdrun log.
type Progress struct {
	Step     int64   // last reported step counter
	TimePS   float64 // simulated time in ps at that step
	NsPerDay float64 // throughput from the latest performance report, 0 if absent
}

// Scan reads a bounded tail of the log at path and returns the latest
// progress entry. ok is false when the file does not exist or no step
// information has been written yet.
//
// mdrun reports progress as a two-line block:
//
//	         Step           Time
//	        50000      100.00000
//
// and, near the end of a run, a performance line whose first numeric
// column is ns/day.
func Scan(path string, tailBytes int) (Progress, bool) {
	if tailBytes <= 0 {
		tailBytes = DefaultTailBytes
	}
	data, err := ReadTail(path, tailBytes)
	if err != nil {
		return Progress{}, false
	}

	var p Progress
	found := false
	lines := strings.Split(string(data), "\n")
	for i := 0; i < len(lines); i++ {
		fields := strings.Fields(lines[i])
		if len(fields) == 2 && fields[0] == "Step" && fields[1] == "Time" {
			if i+1 >= len(lines) {
				break
			}
			vals := strings.Fields(lines[i+1])
			if len(vals) < 2 {
				continue
			}
			step, err1 := strconv.ParseInt(vals[0], 10, 64)
			tm, err2 := strconv.ParseFloat(vals[1], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			p.Step = step
			p.TimePS = tm
			found = true
			i++
			continue
		}
		if len(fields) >= 2 && fields[0] == "Performance:" {
			if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
				p.NsPerDay = v
			}
		}
	}
	return p, found
}

// ReadTail returns up to n trailing bytes of the file at path.
func ReadTail(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > int64(n) {
		if _, err := f.Seek(info.Size()-int64(n), io.SeekStart); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(f)
}
