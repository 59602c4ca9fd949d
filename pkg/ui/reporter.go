package ui

import "time"

// Final states of a crawl run
const (
	StateDone      = "done"
	StateAborted   = "aborted"
	StateCancelled = "cancelled"
)

// Summary describes a finished crawl run
type Summary struct {
	Job            string
	State          string
	Output         string
	StartPage      int
	NextPage       int
	TotalPages     int
	TotalRecords   int
	PagesDone      int
	PagesSkipped   []int
	Records        int64
	RecordsSkipped int
	Elapsed        time.Duration
	Err            error
}

// Reporter receives crawl progress events. Implementations must be safe to
// call from the crawl goroutine while rendering elsewhere.
type Reporter interface {
	JobStarted(job string, startPage, totalPages, totalRecords int)
	PageCommitted(page, records int)
	PageSkipped(page int, err error)
	RecordSkipped(page int, err error)
	Retrying(page, attempt int, err error, delay time.Duration)
	Waiting(delay time.Duration)
	Finished(s Summary)
}

// NopReporter discards every event
type NopReporter struct{}

func (NopReporter) JobStarted(string, int, int, int)        {}
func (NopReporter) PageCommitted(int, int)                  {}
func (NopReporter) PageSkipped(int, error)                  {}
func (NopReporter) RecordSkipped(int, error)                {}
func (NopReporter) Retrying(int, int, error, time.Duration) {}
func (NopReporter) Waiting(time.Duration)                   {}
func (NopReporter) Finished(Summary)                        {}
