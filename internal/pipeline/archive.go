package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ArchiveDir is the working-directory subfolder where prior versions
// of to-be-regenerated artifacts are moved before a stage reruns.
const ArchiveDir = "archive"

// archiver relocates existing artifacts into a per-run archive
// subdirectory so a rerun never overwrites them and GROMACS never
// produces its own #name.N# backups. The destination directory is
// created lazily on the first move.
type archiver struct {
	workDir string
	dir     string
}

func newArchiver(workDir string) *archiver {
	return &archiver{workDir: workDir}
}

// Move relocates every file matching the given names or glob patterns
// (relative to the working directory) into the archive area. Missing
// files are skipped.
func (a *archiver) Move(patterns ...string) error {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(a.workDir, pattern))
		if err != nil {
			return fmt.Errorf("archiving %s: %w", pattern, err)
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if err := a.ensure(); err != nil {
				return err
			}
			dst := filepath.Join(a.dir, filepath.Base(path))
			if err := os.Rename(path, dst); err != nil {
				return fmt.Errorf("archiving %s: %w", filepath.Base(path), err)
			}
		}
	}
	return nil
}

func (a *archiver) ensure() error {
	if a.dir != "" {
		return nil
	}
	dir := filepath.Join(a.workDir, ArchiveDir, strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	a.dir = dir
	return nil
}

// removeMatching deletes files matching the given glob patterns. Used
// for stale derived intermediates left by runs with a different input
// stem; current-stem artifacts are archived, not removed.
func removeMatching(workDir string, patterns ...string) error {
	var errs []error
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if err := os.Remove(path); err != nil {
				errs = append(errs, fmt.Errorf("removing %s: %w", filepath.Base(path), err))
			}
		}
	}
	return errors.Join(errs...)
}
