package job

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"boardscraper/pkg/checkpoint"
	"boardscraper/pkg/client"
	"boardscraper/pkg/config"
	errs "boardscraper/pkg/errors"
	"boardscraper/pkg/export"
	"boardscraper/pkg/fetcher"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/ratelimit"
	"boardscraper/pkg/sink"
	"boardscraper/pkg/storage"
	"boardscraper/pkg/transform"
	"boardscraper/pkg/ui"
)

// State is one step of the crawl state machine
type State int

const (
	StateInit State = iota
	StateFetching
	StateTransforming
	StateBuffering
	StateFlushing
	StateCheckpointing
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFetching:
		return "fetching"
	case StateTransforming:
		return "transforming"
	case StateBuffering:
		return "buffering"
	case StateFlushing:
		return "flushing"
	case StateCheckpointing:
		return "checkpointing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Options changes how a single run starts
type Options struct {
	// ForceRestart deletes an existing checkpoint before loading it
	ForceRestart bool
}

// AbortError is returned when a run stops before the last page. The
// checkpoint points at Page unless SaveErr is set.
type AbortError struct {
	Page    int
	Err     error
	SaveErr error
}

func (e *AbortError) Error() string {
	if e.SaveErr != nil {
		return fmt.Sprintf("aborted at page %d: %v (checkpoint not saved: %v)", e.Page, e.Err, e.SaveErr)
	}
	return fmt.Sprintf("aborted at page %d: %v; checkpoint saved, next run resumes from page %d", e.Page, e.Err, e.Page)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Job runs one resumable crawl from the checkpoint to the last page
type Job struct {
	rt          Runtime
	cfg         *config.Config
	opts        Options
	logger      logger.Logger
	paths       *storage.Manager
	store       *checkpoint.Store
	fetcher     *fetcher.Fetcher
	transformer *transform.Transformer
	polite      *ratelimit.RandomDelay
	exporter    Exporter

	state       State
	sink        *sink.CSVWriter
	baseRecords int64
	totalPages  int
	summary     ui.Summary
}

// New wires a job from rt. Nothing is fetched or opened until Run.
func New(rt Runtime, opts Options) (*Job, error) {
	if rt.Config == nil {
		return nil, errors.New("job: config is required")
	}
	rt.fill()
	cfg := rt.Config

	log := rt.Logger.WithFields(map[string]interface{}{
		"job":    cfg.Job.Name,
		"run_id": rt.RunID,
	})

	paths, err := storage.NewManager(cfg.Sink.Output, cfg.Checkpoint.Dir, cfg.Job.Name)
	if err != nil {
		return nil, err
	}

	schema, err := transform.SchemaFromConfig(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	m := rt.Metrics
	clientOpts := client.Options{
		API:          cfg.API,
		Transport:    cfg.Transport,
		MetadataPath: cfg.Schema.MetadataPath,
		Logger:       log,
		Sleep:        rt.Sleep,
		RoundTripper: rt.RoundTripper,
		OnTransportRetry: func(status int) {
			m.TransportRetries.WithLabelValues(strconv.Itoa(status)).Inc()
		},
	}
	if tb := ratelimit.PerMinute(cfg.Politeness.RequestsPerMinute); tb != nil {
		clientOpts.Limiter = tb
	}
	api, err := client.New(clientOpts)
	if err != nil {
		return nil, err
	}

	reporter := rt.Reporter
	f, err := fetcher.New(api, cfg.Retry, log,
		fetcher.WithSleep(rt.Sleep),
		fetcher.WithHooks(fetcher.Hooks{
			OnRetry: func(page, attempt int, err error, delay time.Duration) {
				m.PageRetries.Inc()
				reporter.Retrying(page, attempt, err, delay)
			},
			OnFetched: func(page, attempts int, elapsed time.Duration) {
				m.FetchDuration.Observe(elapsed.Seconds())
			},
		}),
	)
	if err != nil {
		return nil, err
	}

	polite := ratelimit.NewRandomDelay(cfg.Politeness.MinDelay, cfg.Politeness.MaxDelay)
	polite.Sleep = rt.Sleep
	polite.OnWait = rt.Reporter.Waiting

	exporter := rt.Exporter
	if exporter == nil && cfg.Export.Enabled {
		up, err := export.NewUploader(cfg.Export, log)
		if err != nil {
			return nil, err
		}
		exporter = up
	}

	return &Job{
		rt:          rt,
		cfg:         cfg,
		opts:        opts,
		logger:      log,
		paths:       paths,
		store:       checkpoint.NewStore(paths.CheckpointPath(), cfg.Job.Name, log),
		fetcher:     f,
		transformer: transform.New(schema),
		polite:      polite,
		exporter:    exporter,
	}, nil
}

// Paths returns where the job keeps its output and checkpoint
func (j *Job) Paths() *storage.Manager {
	return j.paths
}

// RunID identifies this run in logs, the checkpoint and the Postgres mirror
func (j *Job) RunID() string {
	return j.rt.RunID
}

// State returns the current state of the machine
func (j *Job) State() State {
	return j.state
}

// Run crawls from the checkpointed page to the last page. On success the
// checkpoint is deleted; on any failure it is left at the failing page and
// an *AbortError is returned.
func (j *Job) Run(ctx context.Context) (ui.Summary, error) {
	start := time.Now()
	j.summary = ui.Summary{
		Job:    j.cfg.Job.Name,
		Output: j.paths.OutputPath(),
	}

	err := j.run(ctx)

	j.summary.Elapsed = time.Since(start)
	j.summary.Err = err
	switch {
	case err == nil:
		j.summary.State = ui.StateDone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		j.summary.State = ui.StateCancelled
	default:
		j.summary.State = ui.StateAborted
	}
	j.rt.Metrics.JobsFinished.WithLabelValues(j.summary.State).Inc()
	j.rt.Reporter.Finished(j.summary)

	return j.summary, err
}

func (j *Job) run(ctx context.Context) error {
	j.setState(StateInit)

	if j.opts.ForceRestart && j.store.Exists() {
		if err := j.store.Clear(); err != nil {
			return err
		}
		j.logger.Info("Existing checkpoint removed, starting from page 1")
	}

	startPage := j.store.Load()
	j.baseRecords = j.store.RecordsWritten()
	j.summary.StartPage = startPage
	j.summary.NextPage = startPage
	j.summary.PagesSkipped = j.store.SkippedPages()
	j.summary.Records = j.baseRecords
	j.rt.Metrics.CheckpointPage.Set(float64(startPage))

	w, err := j.openSink(ctx)
	if err != nil {
		return err
	}
	j.sink = w

	first, err := j.fetch(ctx, startPage)
	if err != nil {
		return j.abort(ctx, startPage, err)
	}

	j.totalPages = first.TotalPages()
	j.summary.TotalPages = j.totalPages
	j.summary.TotalRecords = first.Total
	j.rt.Metrics.TotalPages.Set(float64(j.totalPages))
	j.rt.Reporter.JobStarted(j.cfg.Job.Name, startPage, j.totalPages, first.Total)

	j.logger.InfoWithFields("Crawl started", map[string]interface{}{
		"start_page":  startPage,
		"total_pages": j.totalPages,
		"total":       first.Total,
		"page_size":   j.cfg.Job.PageSize,
	})

	if startPage > j.totalPages {
		return j.finish(ctx)
	}

	for page := startPage; page <= j.totalPages; page++ {
		result := first
		if page != startPage {
			if err := j.politeWait(ctx); err != nil {
				return j.abort(ctx, page, err)
			}
			result, err = j.fetch(ctx, page)
			if err != nil {
				if !j.skippable(ctx, err) {
					return j.abort(ctx, page, err)
				}
				if err := j.skipPage(ctx, page, err); err != nil {
					return j.abort(ctx, page, err)
				}
				continue
			}
			if result.Total != first.Total {
				j.logger.DebugWithFields("Listing total changed during crawl", map[string]interface{}{
					"page":  page,
					"was":   first.Total,
					"total": result.Total,
				})
			}
		}

		if err := j.processPage(ctx, page, result); err != nil {
			return j.abort(ctx, page, err)
		}
	}

	return j.finish(ctx)
}

func (j *Job) setState(s State) {
	if j.state != s {
		j.logger.DebugWithFields("State changed", map[string]interface{}{
			"from": j.state.String(),
			"to":   s.String(),
		})
	}
	j.state = s
}

func (j *Job) openSink(ctx context.Context) (*sink.CSVWriter, error) {
	var mirrors []sink.Mirror
	if dsn := j.cfg.Sink.Postgres.DSN; dsn != "" {
		pg, err := sink.OpenPostgres(ctx, dsn, j.cfg.Sink.Postgres.Table, j.cfg.Job.Name, j.rt.RunID, j.logger)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, pg)
	}

	w, err := sink.Open(j.paths.OutputPath(), sink.Options{
		BatchSize: j.cfg.Sink.BatchSize,
		BOM:       j.cfg.Sink.BOM,
		Mirrors:   mirrors,
		OnFlush:   j.rt.Metrics.ObserveFlush,
		Logger:    j.logger,
	})
	if err != nil {
		for _, m := range mirrors {
			m.Close()
		}
		return nil, err
	}

	if header := j.transformer.Schema().Header(); header != nil {
		if err := w.WriteHeaderIfNew(header); err != nil {
			_ = w.Close(ctx)
			return nil, err
		}
	}
	return w, nil
}

func (j *Job) fetch(ctx context.Context, page int) (*client.PageResult, error) {
	j.setState(StateFetching)
	return j.fetcher.FetchPage(ctx, page, j.cfg.Job.PageSize)
}

func (j *Job) politeWait(ctx context.Context) error {
	delay, err := j.polite.Wait(ctx)
	if err != nil {
		return err
	}
	j.rt.Metrics.PolitenessSeconds.Add(delay.Seconds())
	return nil
}

// skippable reports whether the page failure policy lets the loop move on
func (j *Job) skippable(ctx context.Context, err error) bool {
	if j.cfg.Job.OnPageFailure != config.PolicySkip || ctx.Err() != nil {
		return false
	}
	return errs.IsExhausted(err) || errs.IsSchema(err)
}

func (j *Job) processPage(ctx context.Context, page int, result *client.PageResult) error {
	j.setState(StateTransforming)

	written := 0
	for i, row := range result.Rows {
		rec, err := j.transformer.Transform(row, result.Metadata)
		if err != nil {
			if errs.IsSchema(err) {
				j.skipRecord(page, i, err)
				continue
			}
			return err
		}

		j.setState(StateBuffering)
		if err := j.sink.Add(ctx, rec); err != nil {
			return fmt.Errorf("failed to write records: %w", err)
		}
		written++
	}

	j.setState(StateFlushing)
	if err := j.sink.Flush(ctx); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}

	j.setState(StateCheckpointing)
	j.store.SetProgress(j.rt.RunID, j.totalPages, j.recordsWritten())
	if err := j.store.MarkCompleted(page); err != nil {
		return err
	}

	j.summary.PagesDone++
	j.summary.NextPage = page + 1
	j.summary.Records = j.recordsWritten()
	j.rt.Metrics.PagesFetched.Inc()
	j.rt.Metrics.CheckpointPage.Set(float64(page + 1))
	j.rt.Reporter.PageCommitted(page, written)

	logger.LogPageProgress(j.logger, page, j.totalPages, written, len(result.Rows))
	return nil
}

func (j *Job) skipRecord(page, index int, err error) {
	j.logger.WarnWithFields("Record skipped", map[string]interface{}{
		"page":  page,
		"index": index,
		"error": err.Error(),
	})
	j.summary.RecordsSkipped++
	j.rt.Metrics.RecordsSkipped.Inc()
	j.rt.Reporter.RecordSkipped(page, err)
}

func (j *Job) skipPage(ctx context.Context, page int, cause error) error {
	j.logger.WarnWithFields("Page skipped", map[string]interface{}{
		"page":  page,
		"error": cause.Error(),
	})

	j.setState(StateFlushing)
	if err := j.sink.Flush(ctx); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}

	j.setState(StateCheckpointing)
	j.store.SetProgress(j.rt.RunID, j.totalPages, j.recordsWritten())
	if err := j.store.MarkSkipped(page); err != nil {
		return err
	}

	j.summary.PagesSkipped = j.store.SkippedPages()
	j.summary.NextPage = page + 1
	j.rt.Metrics.PagesSkipped.Inc()
	j.rt.Metrics.CheckpointPage.Set(float64(page + 1))
	j.rt.Reporter.PageSkipped(page, cause)
	return nil
}

// abort flushes what is buffered and points the checkpoint at page. It runs
// on a context detached from cancellation so an interrupt still persists.
func (j *Job) abort(ctx context.Context, page int, cause error) error {
	j.setState(StateAborted)
	bg := context.WithoutCancel(ctx)

	var flushErr error
	if j.sink != nil {
		if flushErr = j.sink.Close(bg); flushErr != nil {
			j.logger.WithError(flushErr).Error("Final flush failed")
		}
	}

	j.store.SetProgress(j.rt.RunID, j.totalPages, j.recordsWritten())
	saveErr := j.store.Save(page)
	if saveErr == nil {
		j.rt.Metrics.CheckpointPage.Set(float64(page))
	}

	j.summary.NextPage = page
	j.summary.Records = j.recordsWritten()

	err := &AbortError{Page: page, Err: errors.Join(cause, flushErr), SaveErr: saveErr}
	j.logger.ErrorWithFields("Crawl aborted", map[string]interface{}{
		"page":  page,
		"error": cause.Error(),
		"saved": saveErr == nil,
	})
	return err
}

func (j *Job) finish(ctx context.Context) error {
	j.setState(StateDone)

	if err := j.sink.Close(ctx); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	j.summary.Records = j.recordsWritten()
	j.summary.NextPage = j.totalPages + 1

	if err := j.store.Clear(); err != nil {
		j.logger.WithError(err).Warn("Failed to delete checkpoint")
	}

	j.logger.InfoWithFields("Crawl completed", map[string]interface{}{
		"pages":           j.summary.PagesDone,
		"skipped_pages":   len(j.summary.PagesSkipped),
		"records":         j.summary.Records,
		"records_skipped": j.summary.RecordsSkipped,
		"output":          j.paths.OutputPath(),
	})

	j.export(ctx)
	return nil
}

// export uploads the finished file. A failed upload does not undo DONE.
func (j *Job) export(ctx context.Context) {
	if j.exporter == nil {
		return
	}
	key, err := j.exporter.Upload(ctx, j.paths.OutputPath(), export.Manifest{
		Job:          j.cfg.Job.Name,
		RunID:        j.rt.RunID,
		Records:      j.summary.Records,
		TotalPages:   j.totalPages,
		SkippedPages: j.summary.PagesSkipped,
	})
	if err != nil {
		j.rt.Metrics.ExportUploads.WithLabelValues("error").Inc()
		j.logger.WithError(err).Warn("Export failed; output is complete locally")
		return
	}
	j.rt.Metrics.ExportUploads.WithLabelValues("ok").Inc()
	j.logger.InfoWithFields("Output uploaded", map[string]interface{}{"object": key})
}

func (j *Job) recordsWritten() int64 {
	if j.sink == nil {
		return j.baseRecords
	}
	return j.baseRecords + j.sink.Written()
}
