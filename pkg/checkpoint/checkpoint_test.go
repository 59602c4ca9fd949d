package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardscraper/pkg/logger"
)

func newStore(t *testing.T) (*Store, *logger.TestLogger) {
	t.Helper()
	tl := logger.NewTestLogger()
	path := filepath.Join(t.TempDir(), "keywords.checkpoint.json")
	return NewStore(path, "keywords", tl), tl
}

func TestLoadMissingStartsAtOne(t *testing.T) {
	store, _ := newStore(t)

	assert.False(t, store.Exists())
	assert.Equal(t, 1, store.Load())
}

func TestSaveLoadSequence(t *testing.T) {
	store, _ := newStore(t)

	for _, page := range []int{1, 2, 5, 3, 40} {
		require.NoError(t, store.Save(page))

		reopened := NewStore(store.Path(), "keywords", nil)
		assert.Equal(t, page, reopened.Load(), "last save must win")
	}
}

func TestSaveRejectsInvalidPage(t *testing.T) {
	store, _ := newStore(t)

	assert.Error(t, store.Save(0))
	assert.False(t, store.Exists())
}

func TestMarkCompletedAdvances(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.MarkCompleted(1))
	assert.Equal(t, 2, NewStore(store.Path(), "keywords", nil).Load())

	require.NoError(t, store.MarkCompleted(2))
	assert.Equal(t, 3, NewStore(store.Path(), "keywords", nil).Load())
}

func TestMarkSkippedIsRemembered(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.MarkSkipped(4))
	require.NoError(t, store.MarkSkipped(2))
	require.NoError(t, store.MarkSkipped(4))

	reopened := NewStore(store.Path(), "keywords", nil)
	assert.Equal(t, 5, reopened.Load())
	assert.Equal(t, []int{2, 4}, reopened.SkippedPages())
}

func TestProgressFieldsPersisted(t *testing.T) {
	store, _ := newStore(t)
	store.SetProgress("run-1", 12, 340)
	require.NoError(t, store.Save(4))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, 4, cp.LastPage)
	assert.Equal(t, "keywords", cp.Job)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Equal(t, 12, cp.TotalPages)
	assert.Equal(t, int64(340), cp.RecordsWritten)
	assert.Equal(t, FormatVersion, cp.Version)
	assert.False(t, cp.UpdatedAt.IsZero())

	reopened := NewStore(store.Path(), "keywords", nil)
	reopened.Load()
	assert.Equal(t, int64(340), reopened.RecordsWritten())
}

func TestSetProgressZeroTotalKeepsRecorded(t *testing.T) {
	store, _ := newStore(t)
	store.SetProgress("run-1", 12, 340)
	require.NoError(t, store.Save(4))

	reopened := NewStore(store.Path(), "keywords", nil)
	assert.Equal(t, 4, reopened.Load())
	reopened.SetProgress("run-2", 0, 360)
	require.NoError(t, reopened.Save(4))

	cp, err := NewStore(store.Path(), "keywords", nil).Read()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 12, cp.TotalPages)
	assert.Equal(t, "run-2", cp.RunID)
	assert.Equal(t, int64(360), cp.RecordsWritten)
}

func TestLoadCorruptFailsOpen(t *testing.T) {
	tests := map[string]string{
		"garbage":       "not a checkpoint",
		"truncated":     `{"last_page": 1`,
		"empty":         "",
		"zero page":     `{"last_page": 0}`,
		"negative page": "-3",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			store, tl := newStore(t)
			require.NoError(t, os.WriteFile(store.Path(), []byte(content), 0644))

			assert.Equal(t, 1, store.Load())
			assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
		})
	}
}

func TestLoadLegacyPlainInteger(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("17\n"), 0644))

	assert.Equal(t, 17, store.Load())

	// saving rewrites it in the JSON format
	require.NoError(t, store.MarkCompleted(17))
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_page": 18`)
}

func TestClear(t *testing.T) {
	store, tl := newStore(t)

	require.NoError(t, store.Save(3))
	assert.True(t, store.Exists())

	require.NoError(t, store.Clear())
	assert.False(t, store.Exists())
	assert.True(t, tl.HasMessage("Checkpoint deleted"))

	// clearing twice is fine
	require.NoError(t, store.Clear())
	assert.Equal(t, 1, store.Load())
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.Save(2))

	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestInfo(t *testing.T) {
	store, _ := newStore(t)

	info, err := store.Info()
	require.NoError(t, err)
	assert.Nil(t, info)

	store.SetProgress("abc", 9, 100)
	require.NoError(t, store.MarkSkipped(3))

	info, err = store.Info()
	require.NoError(t, err)
	assert.Equal(t, 4, info["next_page"])
	assert.Equal(t, 9, info["total_pages"])
	assert.Equal(t, []int{3}, info["skipped_pages"])
	assert.Equal(t, "keywords", info["job"])
	assert.Contains(t, info, "age")
}
