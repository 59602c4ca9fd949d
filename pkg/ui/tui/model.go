package tui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"boardscraper/pkg/ui"
)

// Phase is what the crawl is doing right now
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseFetching
	PhaseRetrying
	PhaseWaiting
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseFetching:
		return "fetching"
	case PhaseRetrying:
		return "retrying"
	case PhaseWaiting:
		return "waiting"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Model represents the dashboard state
type Model struct {
	spinner spinner.Model
	bar     progress.Model

	job            string
	startPage      int
	currentPage    int
	totalPages     int
	totalRecords   int
	pagesDone      int
	records        int64
	recordsSkipped int
	pagesSkipped   []int
	retries        int
	phase          Phase
	waitUntil      time.Time
	summary        *ui.Summary
	startTime      time.Time

	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int

	onQuit func()
	mu     sync.RWMutex
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a dashboard model. onQuit is called when the user quits.
func NewModel(onQuit func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentCyan)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return Model{
		spinner:        s,
		bar:            bar,
		startTime:      time.Now(),
		logMessages:    []LogMessage{},
		maxLogMessages: 50,
		onQuit:         onQuit,
	}
}

// Init starts the spinner
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// Start records the run header
func (m *Model) Start(job string, startPage, totalPages, totalRecords int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.job = job
	m.startPage = startPage
	m.currentPage = startPage
	m.totalPages = totalPages
	m.totalRecords = totalRecords
	m.phase = PhaseFetching
	m.startTime = time.Now()
}

// CommitPage counts a committed page
func (m *Model) CommitPage(page, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pagesDone++
	m.records += int64(records)
	m.currentPage = page + 1
	m.phase = PhaseFetching
}

// SkipPage remembers a skipped page
func (m *Model) SkipPage(page int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pagesSkipped = append(m.pagesSkipped, page)
	m.currentPage = page + 1
	m.phase = PhaseFetching
}

// SkipRecord counts a record dropped for a schema error
func (m *Model) SkipRecord() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsSkipped++
}

// Retry switches to the retrying phase
func (m *Model) Retry(page int, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries++
	m.currentPage = page
	m.phase = PhaseRetrying
	m.waitUntil = time.Now().Add(delay)
}

// Wait switches to the politeness pause
func (m *Model) Wait(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = PhaseWaiting
	m.waitUntil = time.Now().Add(delay)
}

// Finish stores the final summary
func (m *Model) Finish(s ui.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = PhaseFinished
	m.summary = &s
}

// Percent returns the share of pages handled, including earlier runs
func (m *Model) Percent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.percentLocked()
}

func (m *Model) percentLocked() float64 {
	if m.totalPages <= 0 {
		return 0
	}
	done := m.startPage - 1 + m.pagesDone + len(m.pagesSkipped)
	if done > m.totalPages {
		done = m.totalPages
	}
	return float64(done) / float64(m.totalPages)
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	color := dimWhite
	switch level {
	case "ERROR":
		color = accentRed
	case "WARN":
		color = accentOrange
	case "SUCCESS":
		color = accentGreen
	case "INFO":
		color = accentCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   color,
	})
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// eta estimates the remaining time from the page rate of this run
func (m *Model) eta() time.Duration {
	handled := m.pagesDone + len(m.pagesSkipped)
	if handled == 0 {
		return -1
	}
	remaining := m.totalPages - (m.startPage - 1) - handled
	if remaining <= 0 {
		return 0
	}
	return time.Since(m.startTime) / time.Duration(handled) * time.Duration(remaining)
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
