// Package storage resolves a crawl job's file layout and provides the
// atomic write helper used for checkpoints.
//
// The CSV lives at the configured output path. Checkpoints default to the
// same directory and are named after the sanitized job name:
//
//	out/keywords.csv
//	out/keywords.checkpoint.json
//
// WriteFileAtomic writes to "<path>.tmp", fsyncs, then renames over the
// target so readers see either the old or the new content, never a torn file.
package storage
