package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
)

// Tracker keeps crawl counters for progress output
type Tracker struct {
	mu           sync.Mutex
	startTime    time.Time
	startPage    int
	totalPages   int
	totalRecords int
	pagesDone    int
	records      int64
	skipped      int
}

// NewTracker creates a tracker starting now
func NewTracker() *Tracker {
	return &Tracker{startTime: time.Now()}
}

// Start records where the run begins
func (t *Tracker) Start(startPage, totalPages, totalRecords int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startPage = startPage
	t.totalPages = totalPages
	t.totalRecords = totalRecords
	t.startTime = time.Now()
}

// AddPage counts a committed page and its records
func (t *Tracker) AddPage(records int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pagesDone++
	t.records += int64(records)
}

// AddSkipped counts a skipped page or record
func (t *Tracker) AddSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

// Position returns the number of pages handled including earlier runs
func (t *Tracker) Position() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	base := t.startPage - 1
	if base < 0 {
		base = 0
	}
	return base + t.pagesDone, t.totalPages
}

// Records returns the records written in this run
func (t *Tracker) Records() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records
}

// Elapsed returns the time since Start
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.startTime)
}

// Rate returns records per minute
func (t *Tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	minutes := time.Since(t.startTime).Minutes()
	if minutes == 0 {
		return 0
	}
	return float64(t.records) / minutes
}

// ETA estimates the time left from the page rate of this run
func (t *Tracker) ETA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pagesDone == 0 {
		return -1
	}
	remaining := t.totalPages - (t.startPage - 1) - t.pagesDone
	if remaining <= 0 {
		return 0
	}
	perPage := time.Since(t.startTime) / time.Duration(t.pagesDone)
	return perPage * time.Duration(remaining)
}

// Bar renders a fixed-width progress bar
func Bar(done, total, width int) string {
	if total <= 0 {
		return strings.Repeat(ProgressEmpty, width)
	}
	filled := done * width / total
	if filled > width {
		filled = width
	}
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// FormatDuration formats a duration in a compact human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "calculating..."
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
