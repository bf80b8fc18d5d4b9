// Package job implements the lifecycle every external job shares: the output
// directory, the success/failure sentinel markers the pipeline watches, the
// processed-items ledger, and the staging helpers used to lay out inputs for
// an external tool.
package job

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Marker file names the calling pipeline polls for. Their mere presence
// encodes the job outcome; both are zero-byte.
const (
	SuccessMarker = "RELION_JOB_EXIT_SUCCESS"
	FailureMarker = "RELION_JOB_EXIT_FAILURE"
)

// Paths locates a job inside a pipeline project. Project is the absolute
// project root (the working directory the agent was launched from); Dir is
// the job's output directory, project-relative as passed on the CLI.
type Paths struct {
	Project string
	Dir     string
}

// InProject joins path elements under the project root. An absolute element
// restarts the join, so callers can pass project-relative and absolute paths
// (e.g. a shared model install) interchangeably.
func (p Paths) InProject(elem ...string) string {
	parts := append(make([]string, 0, len(elem)+1), p.Project)
	for _, e := range elem {
		if filepath.IsAbs(e) {
			parts = parts[:0]
		}
		parts = append(parts, e)
	}
	return filepath.Join(parts...)
}

// InJob joins path elements under the job directory.
func (p Paths) InJob(elem ...string) string {
	return p.InProject(append([]string{p.Dir}, elem...)...)
}

// Run drives one job through its lifecycle: create the job directory, clear
// any stale markers from an earlier run, execute core, then write exactly one
// outcome marker. Any error from core produces the failure marker and is
// returned unchanged so the process still exits non-zero.
func Run(paths Paths, core func() error) error {
	jobDir := paths.InJob()
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job directory %s: %w", jobDir, err)
	}
	if err := clearMarkers(jobDir); err != nil {
		return err
	}
	if err := core(); err != nil {
		if markerErr := touch(filepath.Join(jobDir, FailureMarker)); markerErr != nil {
			log.Error().Err(markerErr).Str("job_dir", jobDir).
				Msg("could not write failure marker, pipeline will not see the failed state")
		}
		return err
	}
	if err := touch(filepath.Join(jobDir, SuccessMarker)); err != nil {
		return err
	}
	return nil
}

func clearMarkers(jobDir string) error {
	for _, name := range []string{SuccessMarker, FailureMarker} {
		path := filepath.Join(jobDir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale marker %s: %w", path, err)
		}
	}
	return nil
}

// FormatDuration renders a job duration in the h/min/sec form the pipeline
// logs have always used.
func FormatDuration(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%dh %dmin %dsec", s/3600, s/60%60, s%60)
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write marker %s: %w", path, err)
	}
	return f.Close()
}
