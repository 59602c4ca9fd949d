// Package export uploads a finished output file to an S3-compatible
// object store, together with a small JSON manifest describing the run.
package export
