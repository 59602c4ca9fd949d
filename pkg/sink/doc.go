// Package sink writes transformed records to durable storage.
//
// CSVWriter is the primary sink: UTF-8 CSV with a byte order mark on new
// files, a header written only when the file is new, buffered batches that
// flush at a threshold, and an fsync at the end of every flush. Callers flush
// before advancing their checkpoint and always Close, on error paths too.
//
// A PostgresMirror can be attached to receive every flushed batch as JSONB
// rows keyed by content hash.
package sink
