package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"boardscraper/pkg/config"
	"boardscraper/pkg/logger"
	"boardscraper/pkg/storage"
)

// ObjectStore is the part of *minio.Client the uploader needs
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Manifest is stored next to every uploaded output file
type Manifest struct {
	Job          string    `json:"job"`
	RunID        string    `json:"run_id"`
	Object       string    `json:"object"`
	Records      int64     `json:"records"`
	TotalPages   int       `json:"total_pages"`
	SkippedPages []int     `json:"skipped_pages"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Uploader copies finished output files to an S3-compatible bucket
type Uploader struct {
	store  ObjectStore
	bucket string
	prefix string
	region string
	logger logger.Logger
}

// NewUploader connects to the configured endpoint. No request is made
// until Upload.
func NewUploader(cfg config.ExportConfig, log logger.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return NewUploaderWithStore(client, cfg, log), nil
}

// NewUploaderWithStore builds an uploader on an existing store
func NewUploaderWithStore(store ObjectStore, cfg config.ExportConfig, log logger.Logger) *Uploader {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Uploader{
		store:  store,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		region: cfg.Region,
		logger: log,
	}
}

// ObjectKey returns <prefix>/<job>/<runID>-<file name>
func ObjectKey(prefix, job, runID, file string) string {
	return path.Join(prefix, storage.SanitizeName(job), runID+"-"+filepath.Base(file))
}

// EnsureBucket creates the bucket when it does not exist
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.store.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.store.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", u.bucket, err)
	}
	u.logger.InfoWithFields("Bucket created", map[string]interface{}{"bucket": u.bucket})
	return nil
}

// Upload stores the output file and its manifest and returns the object key
func (u *Uploader) Upload(ctx context.Context, file string, m Manifest) (string, error) {
	if err := u.EnsureBucket(ctx); err != nil {
		return "", err
	}

	key := ObjectKey(u.prefix, m.Job, m.RunID, file)
	info, err := u.store.FPutObject(ctx, u.bucket, key, file, minio.PutObjectOptions{
		ContentType: "text/csv; charset=utf-8",
		UserMetadata: map[string]string{
			"job":    m.Job,
			"run-id": m.RunID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", file, err)
	}

	m.Object = key
	if m.FinishedAt.IsZero() {
		m.FinishedAt = time.Now().UTC()
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	manifestKey := key + ".manifest.json"
	if _, err := u.store.PutObject(ctx, u.bucket, manifestKey, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return "", fmt.Errorf("failed to upload manifest: %w", err)
	}

	u.logger.InfoWithFields("Output exported", map[string]interface{}{
		"bucket": u.bucket,
		"object": key,
		"size":   info.Size,
	})
	return key, nil
}
