package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"boardscraper/pkg/ui"
)

// JobStartMsg is sent once the total is known
type JobStartMsg struct {
	Job          string
	StartPage    int
	TotalPages   int
	TotalRecords int
}

// PageCommittedMsg is sent after a page is flushed and checkpointed
type PageCommittedMsg struct {
	Page    int
	Records int
}

// PageSkippedMsg is sent when the skip policy gives up on a page
type PageSkippedMsg struct {
	Page  int
	Error error
}

// RecordSkippedMsg is sent for a record dropped by the transformer
type RecordSkippedMsg struct {
	Page  int
	Error error
}

// RetryMsg is sent before a page-level retry
type RetryMsg struct {
	Page    int
	Attempt int
	Error   error
	Delay   time.Duration
}

// WaitMsg is sent before the politeness pause
type WaitMsg struct {
	Delay time.Duration
}

// FinishedMsg carries the run summary
type FinishedMsg struct {
	Summary ui.Summary
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(20, msg.Width/2-12)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()

	case JobStartMsg:
		m.Start(msg.Job, msg.StartPage, msg.TotalPages, msg.TotalRecords)
		m.AddLogMessage("INFO", fmt.Sprintf("%d records in %d pages, starting at page %d", msg.TotalRecords, msg.TotalPages, msg.StartPage))
		return m, nil

	case PageCommittedMsg:
		m.CommitPage(msg.Page, msg.Records)
		m.AddLogMessage("SUCCESS", fmt.Sprintf("Page %d: %d records", msg.Page, msg.Records))
		return m, nil

	case PageSkippedMsg:
		m.SkipPage(msg.Page)
		m.AddLogMessage("WARN", fmt.Sprintf("Page %d skipped: %v", msg.Page, msg.Error))
		return m, nil

	case RecordSkippedMsg:
		m.SkipRecord()
		m.AddLogMessage("WARN", fmt.Sprintf("Page %d record skipped: %v", msg.Page, msg.Error))
		return m, nil

	case RetryMsg:
		m.Retry(msg.Page, msg.Delay)
		m.AddLogMessage("WARN", fmt.Sprintf("Page %d attempt %d failed: %v", msg.Page, msg.Attempt, msg.Error))
		return m, nil

	case WaitMsg:
		m.Wait(msg.Delay)
		return m, nil

	case FinishedMsg:
		m.Finish(msg.Summary)
		if msg.Summary.State == ui.StateDone {
			m.AddLogMessage("SUCCESS", fmt.Sprintf("Finished: %d records written", msg.Summary.Records))
		} else {
			m.AddLogMessage("ERROR", fmt.Sprintf("Stopped at page %d: %v", msg.Summary.NextPage, msg.Summary.Err))
		}
		return m, nil

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		if m.onQuit != nil {
			m.onQuit()
		}
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.mu.Lock()
		m.logMessages = []LogMessage{}
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
