// Package fetcher adds page-level retries on top of a single-page source.
//
// A page is attempted up to retry.max_attempts times with a linear,
// exponential or constant backoff between attempts. When the budget is spent
// the caller receives errors.FetchExhaustedError carrying the page number
// and the last cause, and decides whether to abort or skip the page.
package fetcher
