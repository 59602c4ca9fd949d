package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"boardscraper/pkg/logger"
	"boardscraper/pkg/storage"
	"boardscraper/pkg/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Mirror receives every batch after it has been durably written to the CSV
type Mirror interface {
	WriteBatch(ctx context.Context, header []string, records []transform.OutputRecord) error
	Close()
}

// Options configures a CSVWriter
type Options struct {
	// BatchSize is the buffer threshold that triggers a flush
	BatchSize int
	// BOM prefixes new files with a UTF-8 byte order mark
	BOM bool
	// Mirrors get each flushed batch
	Mirrors []Mirror
	// OnFlush is called with the size of every successful flush
	OnFlush func(records int)
	Logger  logger.Logger
}

// CSVWriter appends OutputRecords to a CSV file in buffered batches. Every
// flush ends with an fsync so flushed records survive a crash.
type CSVWriter struct {
	path    string
	file    *os.File
	w       *csv.Writer
	opts    Options
	logger  logger.Logger
	header  []string
	existed bool

	buffer  []transform.OutputRecord
	written int64
	warned  map[string]bool
	closed  bool
}

// Open opens path for appending. When the file already holds data its header
// is read back and used to align later records.
func Open(path string, opts Options) (*CSVWriter, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	existed, err := storage.FileHasData(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output file: %w", err)
	}

	var header []string
	if existed {
		header, err = ReadHeader(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read existing header: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !existed {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	log.InfoWithFields("Output file opened", map[string]interface{}{
		"path":       path,
		"appending":  existed,
		"batch_size": opts.BatchSize,
	})

	return &CSVWriter{
		path:    path,
		file:    f,
		w:       csv.NewWriter(f),
		opts:    opts,
		logger:  log,
		header:  header,
		existed: existed,
		buffer:  make([]transform.OutputRecord, 0, opts.BatchSize),
		warned:  make(map[string]bool),
	}, nil
}

// ReadHeader returns the first CSV row of path, ignoring a leading BOM
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if first3, _ := br.Peek(3); len(first3) == 3 && first3[0] == 0xEF && first3[1] == 0xBB && first3[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	return header, err
}

// Path returns the output file path
func (c *CSVWriter) Path() string {
	return c.path
}

// Header returns the header in effect, nil until one is known
func (c *CSVWriter) Header() []string {
	return c.header
}

// Existed reports whether the file held data when it was opened
func (c *CSVWriter) Existed() bool {
	return c.existed
}

// Written returns the number of records flushed by this writer
func (c *CSVWriter) Written() int64 {
	return c.written
}

// Buffered returns the number of records waiting for a flush
func (c *CSVWriter) Buffered() int {
	return len(c.buffer)
}

// WriteHeaderIfNew writes the header row once, and only to a file that was
// new or empty when opened. Otherwise it is a no-op.
func (c *CSVWriter) WriteHeaderIfNew(columns []string) error {
	if c.header != nil || len(columns) == 0 {
		return nil
	}

	if c.opts.BOM && !c.existed {
		if _, err := c.file.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}
	if err := c.w.Write(columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := c.sync(); err != nil {
		return err
	}

	c.header = append([]string(nil), columns...)
	c.logger.DebugWithFields("CSV header written", map[string]interface{}{
		"columns": len(columns),
	})
	return nil
}

// Add buffers rec and flushes once the buffer reaches the batch size
func (c *CSVWriter) Add(ctx context.Context, rec transform.OutputRecord) error {
	if c.closed {
		return errors.New("sink is closed")
	}
	c.buffer = append(c.buffer, rec)
	if len(c.buffer) >= c.opts.BatchSize {
		return c.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered record. The buffer is emptied even when the
// write fails; the caller must not advance its checkpoint in that case.
func (c *CSVWriter) Flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}
	batch := c.buffer
	c.buffer = make([]transform.OutputRecord, 0, c.opts.BatchSize)
	return c.AppendBatch(ctx, batch)
}

// AppendBatch writes records in order, then flushes and fsyncs the file
// before handing the batch to the mirrors.
func (c *CSVWriter) AppendBatch(ctx context.Context, records []transform.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}
	if c.header == nil {
		if err := c.WriteHeaderIfNew(records[0].Columns); err != nil {
			return err
		}
	}

	for _, rec := range records {
		for _, col := range rec.Extra(c.header) {
			if !c.warned[col] {
				c.warned[col] = true
				c.logger.WarnWithFields("Column not in CSV header, dropping it", map[string]interface{}{
					"column": col,
				})
			}
		}
		if err := c.w.Write(rec.Row(c.header)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := c.sync(); err != nil {
		return err
	}

	c.written += int64(len(records))
	c.logger.DebugWithFields("Batch flushed", map[string]interface{}{
		"records": len(records),
		"written": c.written,
	})
	if c.opts.OnFlush != nil {
		c.opts.OnFlush(len(records))
	}

	for _, m := range c.opts.Mirrors {
		if err := m.WriteBatch(ctx, c.header, records); err != nil {
			return fmt.Errorf("mirror write failed: %w", err)
		}
	}
	return nil
}

func (c *CSVWriter) sync() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv writer: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync output file: %w", err)
	}
	return nil
}

// Close flushes what is buffered and closes the file and mirrors. It is safe
// to call more than once.
func (c *CSVWriter) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	flushErr := c.Flush(ctx)
	c.closed = true

	closeErr := c.file.Close()
	for _, m := range c.opts.Mirrors {
		m.Close()
	}

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}
	return nil
}
