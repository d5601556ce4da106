package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ProgressFunc receives the uploaded fraction in [0,1]
type ProgressFunc func(fraction float64)

// ObjectStorage is what the upload and pipeline code needs from object storage
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string, onProgress ProgressFunc) error
	GetPresignedURL(ctx context.Context, objectName string) (string, error)
	Download(ctx context.Context, objectName string) ([]byte, error)
	DeleteFile(ctx context.Context, objectName string) error
}

type StorageService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

var _ ObjectStorage = (*StorageService)(nil)

func NewStorageService(cfg *config.MinioConfig) (*StorageService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &StorageService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// ObjectPath namespaces a deck by owner and upload time: decks/<user>/<unix-millis>_<filename>
func ObjectPath(userID, filename string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "deck.pdf"
	}
	return fmt.Sprintf("decks/%s/%d_%s", userID, now.UnixMilli(), name)
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *StorageService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// UploadFile streams reader to objectName. onProgress may be nil; when set it
// sees a non-decreasing fraction that ends at 1 once the upload succeeded.
func (s *StorageService) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string, onProgress ProgressFunc) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	var progress *progressReader
	if onProgress != nil {
		progress = newProgressReader(size, onProgress)
		opts.Progress = progress
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, opts)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	if progress != nil {
		progress.finish()
	}
	return nil
}

// GetPresignedURL generates a presigned URL for the object with expiration
func (s *StorageService) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// Download reads the whole object; decks are bounded by the upload size limit
func (s *StorageService) Download(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// DeleteFile deletes a file from MINIO
func (s *StorageService) DeleteFile(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// GetPublicURL returns a public URL for the object (if bucket policy allows)
func (s *StorageService) GetPublicURL(objectName string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, objectName)
}

// progressReader is handed to minio as PutObjectOptions.Progress. minio calls
// Read with a slice as long as the chunk it just sent, so len(p) is the
// number of bytes uploaded since the last call.
type progressReader struct {
	mu       sync.Mutex
	total    int64
	sent     int64
	last     float64
	callback ProgressFunc
}

func newProgressReader(total int64, callback ProgressFunc) *progressReader {
	return &progressReader{total: total, callback: callback}
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent += int64(len(b))
	if p.total <= 0 {
		return len(b), nil
	}
	fraction := float64(p.sent) / float64(p.total)
	if fraction > 1 {
		fraction = 1
	}
	// Retried parts are counted twice; never report a step backwards or a
	// premature 1 before the upload call returns.
	if fraction >= 1 {
		fraction = 0.99
	}
	if fraction > p.last {
		p.last = fraction
		p.callback(fraction)
	}
	return len(b), nil
}

func (p *progressReader) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = 1
	p.callback(1)
}
