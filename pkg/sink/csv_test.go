package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardscraper/pkg/transform"
)

func rec(cols []string, vals ...string) transform.OutputRecord {
	r := transform.OutputRecord{Columns: cols, Values: map[string]string{}}
	for i, c := range cols {
		r.Values[c] = vals[i]
	}
	return r
}

func readCSV(t *testing.T, path string) ([]byte, [][]string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM))).ReadAll()
	require.NoError(t, err)
	return data, rows
}

type recordingMirror struct {
	batches [][]transform.OutputRecord
	err     error
	closed  bool
}

func (m *recordingMirror) WriteBatch(ctx context.Context, header []string, records []transform.OutputRecord) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, records)
	return nil
}

func (m *recordingMirror) Close() { m.closed = true }

func TestNewFileGetsBOMAndHeaderOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.csv")
	cols := []string{"id", "subject"}

	w, err := Open(path, Options{BatchSize: 10, BOM: true})
	require.NoError(t, err)
	assert.False(t, w.Existed())

	require.NoError(t, w.WriteHeaderIfNew(cols))
	require.NoError(t, w.WriteHeaderIfNew(cols))
	require.NoError(t, w.Add(ctx, rec(cols, "1", "hello, world")))
	require.NoError(t, w.Close(ctx))

	data, rows := readCSV(t, path)
	assert.True(t, bytes.HasPrefix(data, utf8BOM))
	assert.Equal(t, 1, bytes.Count(data, utf8BOM))
	assert.Equal(t, [][]string{{"id", "subject"}, {"1", "hello, world"}}, rows)
}

func TestExistingFileKeepsHeaderAndAppends(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.csv")
	cols := []string{"id", "subject"}

	w, err := Open(path, Options{BatchSize: 10, BOM: true})
	require.NoError(t, err)
	require.NoError(t, w.Add(ctx, rec(cols, "1", "first")))
	require.NoError(t, w.Close(ctx))

	// reopened with a different column order: existing header wins
	w, err = Open(path, Options{BatchSize: 10, BOM: true})
	require.NoError(t, err)
	assert.True(t, w.Existed())
	assert.Equal(t, cols, w.Header())

	require.NoError(t, w.WriteHeaderIfNew([]string{"subject", "id"}))
	require.NoError(t, w.Add(ctx, rec([]string{"subject", "id"}, "second", "2")))
	require.NoError(t, w.Close(ctx))

	data, rows := readCSV(t, path)
	assert.Equal(t, 1, bytes.Count(data, utf8BOM))
	assert.Equal(t, [][]string{{"id", "subject"}, {"1", "first"}, {"2", "second"}}, rows)
}

func TestEmptyExistingFileIsTreatedAsNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	w, err := Open(path, Options{BOM: true})
	require.NoError(t, err)
	assert.False(t, w.Existed())
	require.NoError(t, w.WriteHeaderIfNew([]string{"a"}))
	require.NoError(t, w.Close(context.Background()))

	data, rows := readCSV(t, path)
	assert.True(t, bytes.HasPrefix(data, utf8BOM))
	assert.Equal(t, [][]string{{"a"}}, rows)
}

func TestThresholdFlushesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.csv")
	cols := []string{"n"}

	flushes := []int{}
	w, err := Open(path, Options{BatchSize: 3, OnFlush: func(n int) { flushes = append(flushes, n) }})
	require.NoError(t, err)

	require.NoError(t, w.Add(ctx, rec(cols, "1")))
	require.NoError(t, w.Add(ctx, rec(cols, "2")))
	assert.Empty(t, flushes)
	assert.Equal(t, 2, w.Buffered())

	require.NoError(t, w.Add(ctx, rec(cols, "3")))
	assert.Equal(t, []int{3}, flushes)
	assert.Equal(t, 0, w.Buffered())

	require.NoError(t, w.Add(ctx, rec(cols, "4")))
	assert.Equal(t, []int{3}, flushes)

	// flushed records are already on disk before Close
	_, rows := readCSV(t, path)
	assert.Len(t, rows, 4)

	require.NoError(t, w.Close(ctx))
	assert.Equal(t, []int{3, 1}, flushes)
	assert.Equal(t, int64(4), w.Written())

	_, rows = readCSV(t, path)
	assert.Equal(t, [][]string{{"n"}, {"1"}, {"2"}, {"3"}, {"4"}}, rows)
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	flushes := 0
	w, err := Open(filepath.Join(t.TempDir(), "out.csv"), Options{OnFlush: func(int) { flushes++ }})
	require.NoError(t, err)

	require.NoError(t, w.Flush(context.Background()))
	require.NoError(t, w.Close(context.Background()))
	assert.Zero(t, flushes)
}

func TestRecordsAreWrittenInOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.csv")
	cols := []string{"n"}

	w, err := Open(path, Options{BatchSize: 7})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, w.Add(ctx, rec(cols, fmt.Sprint(i))))
	}
	require.NoError(t, w.Close(ctx))

	_, rows := readCSV(t, path)
	require.Len(t, rows, 51)
	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprint(i), rows[i+1][0])
	}
}

func TestUnknownColumnsAreDropped(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := Open(path, Options{BatchSize: 10})
	require.NoError(t, err)
	require.NoError(t, w.Add(ctx, rec([]string{"a", "b"}, "1", "2")))
	require.NoError(t, w.Add(ctx, rec([]string{"a", "c"}, "3", "4")))
	require.NoError(t, w.Close(ctx))

	_, rows := readCSV(t, path)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", ""}}, rows)
}

func TestMirrorsReceiveFlushedBatches(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{}
	cols := []string{"n"}

	w, err := Open(filepath.Join(t.TempDir(), "out.csv"), Options{BatchSize: 2, Mirrors: []Mirror{mirror}})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Add(ctx, rec(cols, fmt.Sprint(i))))
	}
	require.NoError(t, w.Close(ctx))

	require.Len(t, mirror.batches, 2)
	assert.Len(t, mirror.batches[0], 2)
	assert.Len(t, mirror.batches[1], 1)
	assert.True(t, mirror.closed)
}

func TestMirrorErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	mirror := &recordingMirror{err: boom}

	w, err := Open(filepath.Join(t.TempDir(), "out.csv"), Options{BatchSize: 1, Mirrors: []Mirror{mirror}})
	require.NoError(t, err)

	err = w.Add(ctx, rec([]string{"n"}, "1"))
	assert.ErrorIs(t, err, boom)
	require.NoError(t, w.Close(ctx))
}

func TestAddAfterClose(t *testing.T) {
	ctx := context.Background()
	w, err := Open(filepath.Join(t.TempDir(), "out.csv"), Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))

	assert.Error(t, w.Add(ctx, rec([]string{"n"}, "1")))
}

func TestReadHeaderWithoutBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv")
	require.NoError(t, os.WriteFile(path, []byte("x,y\n1,2\n"), 0644))

	header, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, header)
}
