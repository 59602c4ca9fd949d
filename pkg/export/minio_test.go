package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardscraper/pkg/config"
	"boardscraper/pkg/logger"
)

type fakeStore struct {
	buckets  map[string]bool
	files    map[string]string
	objects  map[string][]byte
	metadata map[string]map[string]string
	putErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buckets:  map[string]bool{},
		files:    map[string]string{},
		objects:  map[string][]byte{},
		metadata: map[string]map[string]string{},
	}
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	f.files[object] = filePath
	f.metadata[object] = opts.UserMetadata
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: 10}, nil
}

func (f *fakeStore) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[object] = data
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "exports/keywords/run-1-out.csv", ObjectKey("exports", "keywords", "run-1", "/data/out.csv"))
	assert.Equal(t, "my_job/r-x.csv", ObjectKey("", "my job", "r", "x.csv"))
}

func TestUploadCreatesBucketAndManifest(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(file, []byte("a,b\n1,2\n"), 0644))

	store := newFakeStore()
	u := NewUploaderWithStore(store, config.ExportConfig{Bucket: "crawls", Prefix: "boards"}, logger.NewTestLogger())

	key, err := u.Upload(context.Background(), file, Manifest{Job: "keywords", RunID: "run-1", Records: 1, TotalPages: 1})
	require.NoError(t, err)

	assert.Equal(t, "boards/keywords/run-1-out.csv", key)
	assert.True(t, store.buckets["crawls"])
	assert.Equal(t, file, store.files[key])
	assert.Equal(t, "run-1", store.metadata[key]["run-id"])

	var m Manifest
	require.NoError(t, json.Unmarshal(store.objects[key+".manifest.json"], &m))
	assert.Equal(t, key, m.Object)
	assert.Equal(t, int64(1), m.Records)
	assert.False(t, m.FinishedAt.IsZero())
}

func TestUploadError(t *testing.T) {
	store := newFakeStore()
	store.buckets["crawls"] = true
	store.putErr = errors.New("access denied")
	u := NewUploaderWithStore(store, config.ExportConfig{Bucket: "crawls"}, nil)

	_, err := u.Upload(context.Background(), "out.csv", Manifest{Job: "j", RunID: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Empty(t, store.objects)
}

func TestNewUploaderDoesNotDial(t *testing.T) {
	u, err := NewUploader(config.ExportConfig{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, u.store)
}
