// Package checkpoint persists the resume position of a crawl job.
//
// The checkpoint records the next page that has not yet been confirmed
// written. The job loop saves it only after a page's records are durably
// appended to the sink, so on restart at most one page is fetched again and
// no completed page is lost. It also tracks:
//   - Pages given up on under the skip policy
//   - Running record count and total page count
//   - The run id that last wrote it
//
// Files are written atomically (temp file, fsync, rename) and carry a format
// version. A file holding only a page number is still accepted. A corrupt or
// unreadable checkpoint is logged and treated as absent, so the job starts
// over from page 1.
package checkpoint
