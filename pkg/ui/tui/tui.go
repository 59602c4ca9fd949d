package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"boardscraper/pkg/ui"
)

// TUI is a full-screen crawl dashboard. It implements ui.Reporter.
type TUI struct {
	program *tea.Program
	model   *Model
}

// New creates a dashboard. onQuit is called when the user presses q.
func New(onQuit func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(onQuit)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(&model, opts...),
		model:   &model,
	}
}

// Start runs the program until it quits
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop quits the program
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the program
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

func (t *TUI) JobStarted(job string, startPage, totalPages, totalRecords int) {
	t.Send(JobStartMsg{Job: job, StartPage: startPage, TotalPages: totalPages, TotalRecords: totalRecords})
}

func (t *TUI) PageCommitted(page, records int) {
	t.Send(PageCommittedMsg{Page: page, Records: records})
}

func (t *TUI) PageSkipped(page int, err error) {
	t.Send(PageSkippedMsg{Page: page, Error: err})
}

func (t *TUI) RecordSkipped(page int, err error) {
	t.Send(RecordSkippedMsg{Page: page, Error: err})
}

func (t *TUI) Retrying(page, attempt int, err error, delay time.Duration) {
	t.Send(RetryMsg{Page: page, Attempt: attempt, Error: err, Delay: delay})
}

func (t *TUI) Waiting(delay time.Duration) {
	t.Send(WaitMsg{Delay: delay})
}

func (t *TUI) Finished(s ui.Summary) {
	t.Send(FinishedMsg{Summary: s})
}

// Log sends a log line to the dashboard
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

var _ ui.Reporter = (*TUI)(nil)
