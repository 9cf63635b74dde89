package runner

import "bytes"

// fatalStderrMarker is the token grompp embeds in stderr when it hits
// a preprocessor error while still exiting zero.
const fatalStderrMarker = "ERROR"

// Result holds the output of a tool invocation.
type Result struct {
	ExitCode  int
	Stdout    []byte // captured stdout (bounded tail)
	Stderr    []byte // captured stderr (bounded tail)
	Truncated bool   // true if output exceeded the size cap
	TimedOut  bool   // true if the invocation hit its time bound
}

// Success reports whether the invocation completed cleanly.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// ReclassifyFatalStderr marks the result failed when the tool exited
// zero but reported a fatal condition as text in stderr. Only grompp
// is known to do this; other gmx tools print benign "Error"-adjacent
// notes, so callers opt in per invocation.
func (r *Result) ReclassifyFatalStderr() {
	if r.ExitCode == 0 && bytes.Contains(r.Stderr, []byte(fatalStderrMarker)) {
		r.ExitCode = 1
	}
}

// Tail returns the trailing n bytes of b as a string.
func Tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
