package sink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"boardscraper/pkg/logger"
	"boardscraper/pkg/transform"
)

// DB is the subset of *pgxpool.Pool the mirror needs
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// PostgresMirror copies flushed records into a JSONB table. Rows are keyed
// by a content hash so a page fetched twice after a resume inserts nothing new.
type PostgresMirror struct {
	db     DB
	table  string
	job    string
	runID  string
	logger logger.Logger

	inserted int64
}

// OpenPostgres connects a pool and prepares the mirror table
func OpenPostgres(ctx context.Context, dsn, table, job, runID string, log logger.Logger) (*PostgresMirror, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	m := NewPostgresMirror(pool, table, job, runID, log)
	if err := m.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// NewPostgresMirror wraps an existing connection
func NewPostgresMirror(db DB, table, job, runID string, log logger.Logger) *PostgresMirror {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &PostgresMirror{
		db:     db,
		table:  pgx.Identifier{table}.Sanitize(),
		job:    job,
		runID:  runID,
		logger: log.WithField("component", "postgres_mirror"),
	}
}

// EnsureTable creates the mirror table when it does not exist
func (m *PostgresMirror) EnsureTable(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+m.table+` (
		row_hash   TEXT PRIMARY KEY,
		job        TEXT NOT NULL,
		run_id     TEXT NOT NULL,
		record     JSONB NOT NULL,
		written_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", m.table, err)
	}
	return nil
}

// WriteBatch inserts records in one round trip, skipping rows already present
func (m *PostgresMirror) WriteBatch(ctx context.Context, header []string, records []transform.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, rec := range records {
		aligned := transform.OutputRecord{Columns: header, Values: rec.Values}
		doc, err := json.Marshal(aligned)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		b.Queue(
			`INSERT INTO `+m.table+` (row_hash, job, run_id, record)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (row_hash) DO NOTHING`,
			RowHash(m.job, doc), m.job, m.runID, doc,
		)
	}

	br := m.db.SendBatch(ctx, b)
	inserted := 0
	for range records {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to insert record: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}

	m.inserted += int64(inserted)
	m.logger.DebugWithFields("Batch mirrored", map[string]interface{}{
		"records":    len(records),
		"inserted":   inserted,
		"duplicates": len(records) - inserted,
	})
	return nil
}

// Inserted returns the number of rows actually inserted
func (m *PostgresMirror) Inserted() int64 {
	return m.inserted
}

// Close releases the pool
func (m *PostgresMirror) Close() {
	m.db.Close()
}

// RowHash identifies a record within a job
func RowHash(job string, doc []byte) string {
	h := sha256.New()
	h.Write([]byte(job))
	h.Write([]byte{0})
	h.Write(doc)
	return hex.EncodeToString(h.Sum(nil))
}
