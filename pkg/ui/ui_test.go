package ui

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "━━━━━─────", Bar(1, 2, 10))
	assert.Equal(t, "──────────", Bar(0, 0, 10))
	assert.Equal(t, "━━━━━━━━━━", Bar(12, 10, 10))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-1, "calculating..."},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 7*time.Minute, "2h7m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestTrackerPositionIncludesEarlierRuns(t *testing.T) {
	tr := NewTracker()
	tr.Start(3, 5, 450)
	assert.Equal(t, time.Duration(-1), tr.ETA())

	tr.AddPage(100)
	done, total := tr.Position()
	assert.Equal(t, 3, done)
	assert.Equal(t, 5, total)
	assert.Equal(t, int64(100), tr.Records())
}

func TestProgressDisplayVerbose(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, true)

	p.JobStarted("keywords", 1, 3, 250)
	p.PageCommitted(1, 100)
	p.Retrying(2, 1, errors.New("503"), 15*time.Second)
	p.RecordSkipped(2, errors.New("missing field"))
	p.PageSkipped(2, errors.New("exhausted"))
	p.Finished(Summary{Job: "keywords", State: StateDone, Records: 150, Output: "out.csv", PagesDone: 2, PagesSkipped: []int{2}})

	out := buf.String()
	assert.Contains(t, out, "250 records in 3 pages, starting at page 1")
	assert.Contains(t, out, "page 1 • 100 records")
	assert.Contains(t, out, "retrying in 15s")
	assert.Contains(t, out, "record skipped: missing field")
	assert.Contains(t, out, "page 2 skipped: exhausted")
	assert.Contains(t, out, "150 records written to out.csv")
	assert.Contains(t, out, "skipped pages: [2]")
}

func TestProgressDisplayAbortMentionsCheckpoint(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, false)

	p.JobStarted("regions", 4, 10, 1000)
	p.PageCommitted(4, 100)
	assert.Contains(t, buf.String(), "4/10 pages")

	p.Finished(Summary{Job: "regions", State: StateAborted, NextPage: 5, Err: errors.New("boom")})
	assert.Contains(t, buf.String(), "checkpoint saved; the next run resumes from page 5")
}

func TestQuietModeKeepsErrors(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetQuietMode(true)
	t.Cleanup(func() {
		SetQuietMode(false)
		SetOutput(os.Stdout)
	})

	PrintInfo("Job", "keywords")
	PrintSuccess("done")
	PrintError("failed", errors.New("boom"))

	assert.NotContains(t, buf.String(), "keywords")
	assert.Contains(t, buf.String(), "failed: boom")
}

type recordingSender struct{ titles, messages []string }

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func TestNotifierFinished(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifierWithSender(s)

	n.NotifyFinished(Summary{Job: "keywords", State: StateDone, Records: 42})
	n.NotifyFinished(Summary{Job: "keywords", State: StateAborted, NextPage: 7})

	require.Len(t, s.messages, 2)
	assert.Equal(t, "boardscraper: keywords", s.titles[0])
	assert.Contains(t, s.messages[0], "42 records")
	assert.Contains(t, s.messages[1], "page 7")

	var nilNotifier *Notifier
	nilNotifier.NotifyFinished(Summary{})
}
