package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager resolves where a job's files live and creates their directories
type Manager struct {
	outputPath    string
	checkpointDir string
	jobName       string
}

// NewManager creates the output and checkpoint directories for a job.
// An empty checkpointDir puts checkpoints next to the output file.
func NewManager(outputPath, checkpointDir, jobName string) (*Manager, error) {
	if outputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if checkpointDir == "" {
		checkpointDir = filepath.Dir(outputPath)
	}

	for _, dir := range []string{filepath.Dir(outputPath), checkpointDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &Manager{
		outputPath:    outputPath,
		checkpointDir: checkpointDir,
		jobName:       SanitizeName(jobName),
	}, nil
}

// OutputPath returns the CSV path
func (m *Manager) OutputPath() string {
	return m.outputPath
}

// CheckpointPath returns the checkpoint file for the job
func (m *Manager) CheckpointPath() string {
	return CheckpointPath(m.outputPath, m.checkpointDir, m.jobName)
}

// CheckpointPath computes where a job's checkpoint lives without creating
// any directory
func CheckpointPath(outputPath, checkpointDir, jobName string) string {
	if checkpointDir == "" {
		checkpointDir = filepath.Dir(outputPath)
	}
	return filepath.Join(checkpointDir, SanitizeName(jobName)+".checkpoint.json")
}

// JobName returns the sanitized job name
func (m *Manager) JobName() string {
	return m.jobName
}

// SanitizeName makes a job name safe to use as a file name
func SanitizeName(name string) string {
	s := unsafeName.ReplaceAllString(strings.TrimSpace(name), "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "job"
	}
	return s
}

// FileHasData reports whether path exists and is non-empty
func FileHasData(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() > 0, nil
}

// WriteFileAtomic writes through a temporary file in the same directory,
// syncs it and renames it over path.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	tempFile := path + ".tmp"
	out, err := os.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if err := write(out); err != nil {
		out.Close()
		os.Remove(tempFile)
		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	syncDir(filepath.Dir(path))
	return nil
}

// syncDir flushes the rename to disk where the platform allows it
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
