// Package job runs a resumable crawl of a paginated listing API.
//
// A Job walks the pages from the checkpointed page to the last page
// reported by the API:
//
//	INIT -> FETCHING -> TRANSFORMING -> BUFFERING -> FLUSHING -> CHECKPOINTING
//	     -> FETCHING(page+1) | DONE | ABORTED
//
// The first page fetched tells the job how many pages exist, and its rows
// are processed without a second request. Every page is flushed to the
// output file before the checkpoint moves past it, so an interrupted run
// reprocesses at most one page.
//
// Rows that fail the schema are dropped one by one. A page that cannot be
// fetched or decoded either aborts the run or is skipped, depending on
// job.on_page_failure. Fatal HTTP errors, sink errors and cancellation
// always abort; the checkpoint then points at the failing page.
//
// Usage:
//
//	j, err := job.New(job.Runtime{Config: cfg, Logger: log}, job.Options{})
//	if err != nil {
//	    return err
//	}
//	summary, err := j.Run(ctx)
package job
