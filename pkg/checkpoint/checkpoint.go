package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"boardscraper/pkg/logger"
	"boardscraper/pkg/storage"
)

// FormatVersion is written into every checkpoint document
const FormatVersion = 2

// Checkpoint is the persisted resume state of a crawl job. LastPage is the
// next page not yet confirmed written.
type Checkpoint struct {
	LastPage       int       `json:"last_page"`
	Job            string    `json:"job,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	TotalPages     int       `json:"total_pages,omitempty"`
	SkippedPages   []int     `json:"skipped_pages,omitempty"`
	RecordsWritten int64     `json:"records_written,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int       `json:"version"`
}

// Store persists a single job's checkpoint file
type Store struct {
	path   string
	job    string
	logger logger.Logger

	// state carries the extra fields between saves
	state Checkpoint
}

// NewStore creates a store for the checkpoint file at path
func NewStore(path, job string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{
		path:   path,
		job:    job,
		logger: log.WithField("checkpoint", path),
		state:  Checkpoint{Job: job},
	}
}

// Path returns the checkpoint file path
func (s *Store) Path() string {
	return s.path
}

// Load returns the next page to fetch. A missing, unreadable or corrupt
// checkpoint yields 1.
func (s *Store) Load() int {
	cp, err := s.Read()
	if err != nil {
		s.logger.WithError(err).Warn("Checkpoint unreadable, starting from page 1")
		s.state = Checkpoint{Job: s.job}
		return 1
	}
	if cp == nil {
		s.state = Checkpoint{Job: s.job}
		return 1
	}

	s.state = *cp
	if s.state.Job == "" {
		s.state.Job = s.job
	}

	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"last_page":       cp.LastPage,
		"skipped_pages":   len(cp.SkippedPages),
		"records_written": cp.RecordsWritten,
		"updated_at":      cp.UpdatedAt,
	})

	return cp.LastPage
}

// Read decodes the checkpoint file. It returns nil, nil when no file exists.
func (s *Store) Read() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return decode(data)
}

// decode accepts the JSON document or a bare page number written by older versions
func decode(data []byte) (*Checkpoint, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("checkpoint file is empty")
	}

	var cp Checkpoint
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &cp); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	} else {
		page, err := strconv.Atoi(strings.TrimSpace(string(trimmed)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode legacy checkpoint: %w", err)
		}
		cp.LastPage = page
	}

	if cp.LastPage < 1 {
		return nil, fmt.Errorf("checkpoint last_page %d is out of range", cp.LastPage)
	}
	return &cp, nil
}

// Save durably records page as the next page to fetch
func (s *Store) Save(page int) error {
	if page < 1 {
		return fmt.Errorf("invalid checkpoint page %d", page)
	}

	cp := s.state
	cp.LastPage = page
	cp.UpdatedAt = time.Now()
	cp.Version = FormatVersion

	err := storage.WriteFileAtomic(s.path, 0644, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(&cp); err != nil {
			return fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.state = cp
	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"last_page": page,
	})
	return nil
}

// MarkCompleted records that page was fully written
func (s *Store) MarkCompleted(page int) error {
	return s.Save(page + 1)
}

// MarkSkipped records page as given up on and advances past it
func (s *Store) MarkSkipped(page int) error {
	if !containsPage(s.state.SkippedPages, page) {
		s.state.SkippedPages = append(s.state.SkippedPages, page)
		sort.Ints(s.state.SkippedPages)
	}
	return s.Save(page + 1)
}

// SetProgress updates the informational fields written with the next Save.
// A zero totalPages keeps the total already on record.
func (s *Store) SetProgress(runID string, totalPages int, recordsWritten int64) {
	s.state.RunID = runID
	if totalPages > 0 {
		s.state.TotalPages = totalPages
	}
	s.state.RecordsWritten = recordsWritten
}

// SkippedPages returns the pages recorded as skipped
func (s *Store) SkippedPages() []int {
	out := make([]int, len(s.state.SkippedPages))
	copy(out, s.state.SkippedPages)
	return out
}

// RecordsWritten returns the running record count carried by the checkpoint
func (s *Store) RecordsWritten() int64 {
	return s.state.RecordsWritten
}

// Clear removes the checkpoint file; a missing file is not an error
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	s.state = Checkpoint{Job: s.job}
	s.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Info returns a summary of the checkpoint for display, or nil when none exists
func (s *Store) Info() (map[string]interface{}, error) {
	cp, err := s.Read()
	if err != nil || cp == nil {
		return nil, err
	}

	info := map[string]interface{}{
		"job":             cp.Job,
		"next_page":       cp.LastPage,
		"total_pages":     cp.TotalPages,
		"skipped_pages":   cp.SkippedPages,
		"records_written": cp.RecordsWritten,
		"run_id":          cp.RunID,
		"path":            s.path,
	}
	if !cp.UpdatedAt.IsZero() {
		info["updated_at"] = cp.UpdatedAt
		info["age"] = time.Since(cp.UpdatedAt).Round(time.Second)
	}
	return info, nil
}

func containsPage(pages []int, page int) bool {
	for _, p := range pages {
		if p == page {
			return true
		}
	}
	return false
}
