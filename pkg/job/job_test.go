package job

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardscraper/pkg/checkpoint"
	"boardscraper/pkg/config"
	errs "boardscraper/pkg/errors"
	"boardscraper/pkg/export"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/metrics"
	"boardscraper/pkg/ui"
)

// board fakes a keyword search endpoint holding total rows
type board struct {
	mu     sync.Mutex
	total  int
	fail   map[int]int
	broken map[int]bool
	calls  map[int]int
	server *httptest.Server

	// threads serves group thread listings: top-level rows and total plus
	// forum metadata, with a null dateline on every fourth row
	threads bool
}

func newBoard(t *testing.T, total int) *board {
	b := &board{
		total:  total,
		fail:   map[int]int{},
		broken: map[int]bool{},
		calls:  map[int]int{},
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *board) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(r.PostForm.Get("pageNum"))
	size, _ := strconv.Atoi(r.PostForm.Get("pageSize"))

	b.mu.Lock()
	b.calls[page]++
	status := b.fail[page]
	broken := b.broken[page]
	threads := b.threads
	b.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	if threads {
		b.serveThreads(w, page, size)
		return
	}

	rows := []map[string]any{}
	for i := (page - 1) * size; i < page*size && i < b.total; i++ {
		source := map[string]any{
			"fid":      strconv.Itoa(i + 1),
			"dateline": 1700000000 + i,
			"subject":  "subject " + strconv.Itoa(i+1),
			"typeId":   "1",
			"userId":   "u" + strconv.Itoa(i%7),
			"content":  "body",
		}
		if broken && i == (page-1)*size {
			delete(source, "subject")
		}
		rows = append(rows, map[string]any{"source": source})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"rows": rows, "total": b.total},
	})
}

func (b *board) serveThreads(w http.ResponseWriter, page, size int) {
	rows := []map[string]any{}
	for i := (page - 1) * size; i < page*size && i < b.total; i++ {
		var dateline any = 1700000000 + i
		if i%4 == 3 {
			dateline = nil
		}
		rows = append(rows, map[string]any{
			"tid":      i + 1,
			"subject":  "thread " + strconv.Itoa(i+1),
			"dateline": dateline,
			"replies":  i % 5,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total": b.total,
		"rows":  rows,
		"other": map[string]any{"forum": map[string]any{"fid": 88, "name": "Regional"}},
	})
}

func (b *board) setFail(page, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.fail, page)
		return
	}
	b.fail[page] = status
}

func (b *board) callsFor(page int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[page]
}

func testConfig(t *testing.T, endpoint, dir string) *config.Config {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.ApplyPreset())
	cfg.API.Endpoint = endpoint
	cfg.Job.Name = "keywords"
	cfg.Job.PageSize = 100
	cfg.Sink.Output = filepath.Join(dir, "out.csv")
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Transport.MaxRetries = 0
	cfg.Politeness.MinDelay = 0
	cfg.Politeness.MaxDelay = 0
	return cfg
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newJob(t *testing.T, cfg *config.Config, opts Options, edit ...func(*Runtime)) *Job {
	rt := Runtime{
		Config:  cfg,
		Logger:  logger.NewTestLogger(),
		Metrics: metrics.New(cfg.Job.Name),
		RunID:   "run-test",
		Sleep:   noSleep,
	}
	for _, e := range edit {
		e(&rt)
	}
	j, err := New(rt, opts)
	require.NoError(t, err)
	return j
}

func readRows(t *testing.T, path string) [][]string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}), "output must start with a BOM")
	rows, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunFetchesEveryPage(t *testing.T) {
	b := newBoard(t, 250)
	dir := t.TempDir()
	cfg := testConfig(t, b.server.URL, dir)
	j := newJob(t, cfg, Options{})

	summary, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ui.StateDone, summary.State)
	assert.Equal(t, 3, summary.TotalPages)
	assert.Equal(t, 3, summary.PagesDone)
	assert.Equal(t, int64(250), summary.Records)
	assert.Equal(t, StateDone, j.State())

	for page := 1; page <= 3; page++ {
		assert.Equal(t, 1, b.callsFor(page), "page %d fetched once", page)
	}

	rows := readRows(t, cfg.Sink.Output)
	require.Len(t, rows, 251)
	assert.Equal(t, []string{"fid", "dateline", "subject", "typeId", "userId", "content"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "250", rows[250][0])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, rows[1][1])

	_, statErr := os.Stat(j.Paths().CheckpointPath())
	assert.True(t, os.IsNotExist(statErr), "checkpoint must be deleted after completion")

	assert.Equal(t, 3.0, testutil.ToFloat64(j.rt.Metrics.PagesFetched))
	assert.Equal(t, 250.0, testutil.ToFloat64(j.rt.Metrics.RecordsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(j.rt.Metrics.JobsFinished.WithLabelValues(ui.StateDone)))
}

func TestAbortKeepsCheckpointAtFailingPageAndResumes(t *testing.T) {
	b := newBoard(t, 250)
	b.setFail(2, http.StatusServiceUnavailable)
	dir := t.TempDir()
	cfg := testConfig(t, b.server.URL, dir)

	first := newJob(t, cfg, Options{})
	summary, err := first.Run(context.Background())
	require.Error(t, err)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, 2, abort.Page)
	assert.True(t, errs.IsExhausted(err))
	assert.Contains(t, err.Error(), "next run resumes from page 2")
	assert.Equal(t, ui.StateAborted, summary.State)
	assert.Equal(t, 2, summary.NextPage)
	assert.Equal(t, 2, b.callsFor(2), "page 2 retried up to the budget")

	store := checkpoint.NewStore(first.Paths().CheckpointPath(), "keywords", nil)
	assert.Equal(t, 2, store.Load())
	assert.Len(t, readRows(t, cfg.Sink.Output), 101)

	b.setFail(2, 0)
	second := newJob(t, cfg, Options{})
	summary, err = second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.StartPage)
	assert.Equal(t, 1, b.callsFor(1), "resume must not refetch committed pages")
	assert.Equal(t, int64(250), summary.Records)

	rows := readRows(t, cfg.Sink.Output)
	require.Len(t, rows, 251)
	assert.Equal(t, "fid", rows[0][0])
	assert.Equal(t, "101", rows[101][0])
	assert.False(t, store.Exists())
}

func TestSkipPolicyAdvancesPastExhaustedPage(t *testing.T) {
	b := newBoard(t, 250)
	b.setFail(2, http.StatusBadGateway)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	cfg.Job.OnPageFailure = config.PolicySkip
	j := newJob(t, cfg, Options{})

	summary, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2}, summary.PagesSkipped)
	assert.Equal(t, 2, summary.PagesDone)
	assert.Equal(t, int64(150), summary.Records)
	assert.Len(t, readRows(t, cfg.Sink.Output), 151)
	assert.Equal(t, 1.0, testutil.ToFloat64(j.rt.Metrics.PagesSkipped))
}

func TestFatalStatusAbortsUnderSkipPolicy(t *testing.T) {
	b := newBoard(t, 250)
	b.setFail(3, http.StatusUnauthorized)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	cfg.Job.OnPageFailure = config.PolicySkip
	j := newJob(t, cfg, Options{})

	_, err := j.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, 1, b.callsFor(3), "fatal errors are not retried")

	store := checkpoint.NewStore(j.Paths().CheckpointPath(), "keywords", nil)
	assert.Equal(t, 3, store.Load())
}

func TestRecordWithMissingFieldIsSkipped(t *testing.T) {
	b := newBoard(t, 250)
	b.broken[1] = true
	cfg := testConfig(t, b.server.URL, t.TempDir())
	j := newJob(t, cfg, Options{})

	summary, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RecordsSkipped)
	assert.Equal(t, int64(249), summary.Records)
	rows := readRows(t, cfg.Sink.Output)
	require.Len(t, rows, 250)
	assert.Equal(t, "2", rows[1][0])
}

func TestCancellationSavesCheckpoint(t *testing.T) {
	b := newBoard(t, 250)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	cfg.Politeness.MinDelay = time.Second
	cfg.Politeness.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j := newJob(t, cfg, Options{}, func(rt *Runtime) {
		rt.Sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})

	summary, err := j.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ui.StateCancelled, summary.State)

	store := checkpoint.NewStore(j.Paths().CheckpointPath(), "keywords", nil)
	assert.Equal(t, 2, store.Load())
	assert.Equal(t, int64(100), store.RecordsWritten())
}

func TestForceRestartIgnoresCheckpoint(t *testing.T) {
	b := newBoard(t, 150)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	j := newJob(t, cfg, Options{ForceRestart: true})

	store := checkpoint.NewStore(j.Paths().CheckpointPath(), "keywords", nil)
	require.NoError(t, store.Save(2))

	summary, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StartPage)
	assert.Equal(t, 1, b.callsFor(1))
}

func TestEmptyListingFinishesImmediately(t *testing.T) {
	b := newBoard(t, 0)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	j := newJob(t, cfg, Options{})

	summary, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ui.StateDone, summary.State)
	assert.Equal(t, 0, summary.TotalPages)
	assert.Equal(t, 1, b.callsFor(1))
	assert.Len(t, readRows(t, cfg.Sink.Output), 1)
}

type fakeExporter struct {
	file     string
	manifest export.Manifest
	err      error
}

func (f *fakeExporter) Upload(ctx context.Context, file string, m export.Manifest) (string, error) {
	f.file = file
	f.manifest = m
	return "crawls/" + filepath.Base(file), f.err
}

func TestExportRunsAfterCompletion(t *testing.T) {
	b := newBoard(t, 120)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	exp := &fakeExporter{}
	j := newJob(t, cfg, Options{}, func(rt *Runtime) { rt.Exporter = exp })

	_, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cfg.Sink.Output, exp.file)
	assert.Equal(t, "run-test", exp.manifest.RunID)
	assert.Equal(t, int64(120), exp.manifest.Records)
	assert.Equal(t, 1.0, testutil.ToFloat64(j.rt.Metrics.ExportUploads.WithLabelValues("ok")))
}

func TestExportFailureDoesNotFailRun(t *testing.T) {
	b := newBoard(t, 10)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	exp := &fakeExporter{err: errors.New("bucket unreachable")}
	j := newJob(t, cfg, Options{}, func(rt *Runtime) { rt.Exporter = exp })

	summary, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ui.StateDone, summary.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(j.rt.Metrics.ExportUploads.WithLabelValues("error")))
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Runtime{}, Options{})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "checkpointing", StateCheckpointing.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestGroupThreadsPreset(t *testing.T) {
	b := newBoard(t, 150)
	b.mu.Lock()
	b.threads = true
	b.mu.Unlock()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Schema.Preset = config.PresetGroupThreads
	require.NoError(t, cfg.ApplyPreset())
	cfg.Schema.Timezone = "UTC"
	cfg.API.Endpoint = b.server.URL
	cfg.Job.Name = "regions"
	cfg.Job.PageSize = 100
	cfg.Sink.Output = filepath.Join(dir, "regions.csv")
	cfg.Sink.BatchSize = 500
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Transport.MaxRetries = 0
	cfg.Politeness.MinDelay = 0
	cfg.Politeness.MaxDelay = 0
	j := newJob(t, cfg, Options{})

	summary, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ui.StateDone, summary.State)
	assert.Equal(t, 2, summary.TotalPages)
	assert.Equal(t, int64(150), summary.Records)
	assert.Zero(t, summary.RecordsSkipped)

	rows := readRows(t, cfg.Sink.Output)
	require.Len(t, rows, 151)
	assert.Equal(t, []string{"dateline", "replies", "subject", "tid", "forum_fid", "forum_name"}, rows[0])
	assert.Equal(t, []string{"2023-11-14 22:13:20", "0", "thread 1", "1", "88", "Regional"}, rows[1])
	// a null dateline keeps the row with an empty cell
	assert.Equal(t, "", rows[4][0])
	assert.Equal(t, "4", rows[4][3])
	assert.Equal(t, "150", rows[150][3])

	_, statErr := os.Stat(j.Paths().CheckpointPath())
	assert.True(t, os.IsNotExist(statErr))
}

// waitRecorder counts politeness waits reported by the job
type waitRecorder struct {
	ui.NopReporter
	waits []time.Duration
}

func (r *waitRecorder) Waiting(d time.Duration) { r.waits = append(r.waits, d) }

func TestCheckpointAdvancesAfterEachPage(t *testing.T) {
	b := newBoard(t, 250)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	cfg.Politeness.MinDelay = time.Millisecond
	cfg.Politeness.MaxDelay = time.Millisecond

	var cpPath string
	var seen []int
	reporter := &waitRecorder{}
	j := newJob(t, cfg, Options{}, func(rt *Runtime) {
		rt.Reporter = reporter
		rt.Sleep = func(ctx context.Context, d time.Duration) error {
			// runs between pages, after the previous page was committed
			seen = append(seen, checkpoint.NewStore(cpPath, "keywords", nil).Load())
			return ctx.Err()
		}
	})
	cpPath = j.Paths().CheckpointPath()

	_, err := j.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, seen)
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond}, reporter.waits)
	_, statErr := os.Stat(cpPath)
	assert.True(t, os.IsNotExist(statErr), "checkpoint must be deleted after the last page")
	assert.InDelta(t, 0.002, testutil.ToFloat64(j.rt.Metrics.PolitenessSeconds), 1e-9)
}

func TestStartPageFailureKeepsRecordedTotal(t *testing.T) {
	b := newBoard(t, 1200)
	b.setFail(2, http.StatusUnauthorized)
	cfg := testConfig(t, b.server.URL, t.TempDir())
	j := newJob(t, cfg, Options{})

	store := checkpoint.NewStore(j.Paths().CheckpointPath(), "keywords", nil)
	store.SetProgress("run-before", 12, 100)
	require.NoError(t, store.Save(2))

	_, err := j.Run(context.Background())
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, 2, abortErr.Page)

	cp, err := checkpoint.NewStore(j.Paths().CheckpointPath(), "keywords", nil).Read()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.LastPage)
	assert.Equal(t, 12, cp.TotalPages)
	assert.Equal(t, int64(100), cp.RecordsWritten)
}
