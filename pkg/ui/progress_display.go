package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressDisplay prints a single updating progress line, or one line per
// event in verbose mode
type ProgressDisplay struct {
	mu      sync.Mutex
	w       io.Writer
	job     string
	tracker *Tracker
	verbose bool
	retries int
	current string
}

// NewProgressDisplay creates a display writing to w
func NewProgressDisplay(w io.Writer, verbose bool) *ProgressDisplay {
	return &ProgressDisplay{
		w:       w,
		tracker: NewTracker(),
		verbose: verbose,
	}
}

// Tracker exposes the counters behind the display
func (p *ProgressDisplay) Tracker() *Tracker {
	return p.tracker
}

// JobStarted prints the run header
func (p *ProgressDisplay) JobStarted(job string, startPage, totalPages, totalRecords int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.job = job
	p.tracker.Start(startPage, totalPages, totalRecords)
	fmt.Fprintf(p.w, "%s %d records in %d pages, starting at page %d\n",
		Cyan(job), totalRecords, totalPages, startPage)
}

// PageCommitted advances the progress line
func (p *ProgressDisplay) PageCommitted(page, records int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tracker.AddPage(records)
	p.current = ""
	if p.verbose {
		fmt.Fprintf(p.w, "%s page %d • %d records\n", Green("✓"), page, records)
		return
	}
	p.printProgress()
}

// PageSkipped notes a page given up on
func (p *ProgressDisplay) PageSkipped(page int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tracker.AddSkipped()
	fmt.Fprintf(p.w, "\n%s page %d skipped: %v\n", Yellow("⚠"), page, err)
}

// RecordSkipped is only shown in verbose mode
func (p *ProgressDisplay) RecordSkipped(page int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verbose {
		fmt.Fprintf(p.w, "%s page %d record skipped: %v\n", Dim("•"), page, err)
	}
}

// Retrying shows the pending retry on the progress line
func (p *ProgressDisplay) Retrying(page, attempt int, err error, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.retries++
	if p.verbose {
		fmt.Fprintf(p.w, "%s page %d attempt %d failed, retrying in %s: %v\n",
			Yellow("↻"), page, attempt, FormatDuration(delay), err)
		return
	}
	p.current = fmt.Sprintf("retry %d on page %d in %s", attempt, page, FormatDuration(delay))
	p.printProgress()
}

// Waiting shows the politeness pause
func (p *ProgressDisplay) Waiting(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verbose {
		return
	}
	p.current = "waiting " + FormatDuration(delay)
	p.printProgress()
}

// printProgress redraws the progress line
func (p *ProgressDisplay) printProgress() {
	done, total := p.tracker.Position()
	line := fmt.Sprintf("%s [%s] %d/%d pages • %d records • %.1f/min • %s",
		Cyan(p.job),
		Bar(done, total, 20),
		done,
		total,
		p.tracker.Records(),
		p.tracker.Rate(),
		FormatDuration(p.tracker.ETA()),
	)
	if p.retries > 0 {
		line += " • " + Yellow(fmt.Sprintf("%d retries", p.retries))
	}
	if p.current != "" {
		line += " • " + Dim(p.current)
	}
	fmt.Fprintf(p.w, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// Finished prints the run summary
func (p *ProgressDisplay) Finished(s Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w)
	switch s.State {
	case StateDone:
		fmt.Fprintf(p.w, "%s %s finished: %d records written to %s\n", Green("✓"), s.Job, s.Records, s.Output)
	default:
		fmt.Fprintf(p.w, "%s %s %s at page %d: %v\n", Red("✗"), s.Job, s.State, s.NextPage, s.Err)
		fmt.Fprintf(p.w, "  %s checkpoint saved; the next run resumes from page %d\n", Dim("•"), s.NextPage)
	}

	fmt.Fprintf(p.w, "  %s %d pages in %s\n", Dim("•"), s.PagesDone, FormatDuration(s.Elapsed))
	if len(s.PagesSkipped) > 0 {
		fmt.Fprintf(p.w, "  %s skipped pages: %v\n", Dim("•"), s.PagesSkipped)
	}
	if s.RecordsSkipped > 0 {
		fmt.Fprintf(p.w, "  %s %d records skipped for schema errors\n", Dim("•"), s.RecordsSkipped)
	}
}
