package pipeline

import (
	"errors"
	"fmt"
)

// ErrJobActive is returned when a production job already owns the
// runner slot and the caller did not ask for it to be replaced.
var ErrJobActive = errors.New("a production job is already running; stop it or rerun with replace")

// ConfigError reports a required input that is absent or unusable.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// StageError reports a failed pipeline stage together with a bounded
// diagnostic tail from the tool's output.
type StageError struct {
	Stage string // tool name, e.g. "pdb2gmx"
	Tail  string // trailing stderr/stdout bytes
}

func (e *StageError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%s failed", e.Stage)
	}
	return fmt.Sprintf("%s failed:\n%s", e.Stage, e.Tail)
}
